package idindex

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/roach88/fsidx/internal/ddl"
)

// Table is the identifier index table.
const Table = "doIdentifiers"

//go:embed dbspec.yaml
var dbspec []byte

// TableSpecs returns the index's table definitions.
func TableSpecs() ([]ddl.TableSpec, error) {
	return ddl.ParseSpecs(dbspec)
}

// EnsureSchema creates the index table if it does not exist. A pool
// without a DDL converter creates nothing and the table is assumed to be
// managed elsewhere.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	specs, err := TableSpecs()
	if err != nil {
		return err
	}
	created, err := ix.pool.CreateNonExistingTables(ctx, specs)
	if err != nil {
		return fmt.Errorf("ensure identifier index schema: %w", err)
	}
	if len(created) > 0 {
		ix.logger.Info("created identifier index tables", "tables", created)
	}
	return nil
}
