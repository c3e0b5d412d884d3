package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialTokens generates session tokens "<prefix>-1", "<prefix>-2", ...
//
// Real sessions use random UUIDs; a sequence keeps test expectations and
// logs byte-identical across runs.
//
// Thread-safety: SequentialTokens is safe for concurrent use.
type SequentialTokens struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialTokens creates a generator. If prefix is empty, "token" is
// used.
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "token"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokens) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
