package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/fsidx/internal/fserr"
)

//go:embed schema.cue
var schemaCUE string

// Validate checks the configuration against the embedded CUE schema.
// Defaults must have been applied first.
//
// The document is encoded to JSON and unified with #Config; every
// violation is reported, one per line, prefixed with its path.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return configError("validate", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return configError("compile schema", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := doc.Err(); err != nil {
		return configError("validate", err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &fserr.Error{
			Code:    fserr.CodeConfiguration,
			Op:      "validate",
			Message: "invalid configuration",
			Err:     fmt.Errorf("%s", strings.TrimSpace(cueerrors.Details(err, nil))),
		}
	}
	return nil
}
