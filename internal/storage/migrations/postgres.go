package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunPostgresMigrations applies every embedded Postgres migration in order.
// Migrations use IF NOT EXISTS, so applying them again is harmless.
func RunPostgresMigrations(ctx context.Context, db Execer) error {
	migs, err := Load(DialectPostgres)
	if err != nil {
		return err
	}
	for _, m := range migs {
		if _, err := db.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}
