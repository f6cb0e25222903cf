package repos

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables this service owns. Every statement is
// idempotent so each binary runs it at startup.
func EnsureSchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
