package postgres

import (
	"context"
	_ "embed"

	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *ppostgres.DB) error {
	_, err := db.Exec(ctx, "postgres.migrate", schema)
	return err
}
