//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"credanchor/internal/platform/database"
)

// credentialTables lists the credential schema, children before parents.
var credentialTables = []string{
	"revocation_anchors",
	"credential_revocations",
	"credential_anchors",
	"credentials",
}

type Postgres struct {
	DSN string
	DB  *sql.DB
}

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:18-alpine",
		postgres.WithDatabase("credanchor"),
		postgres.WithUsername("credanchor"),
		postgres.WithPassword("credanchor"),
		testcontainers.WithWaitStrategy(
			// Postgres logs readiness once for the init run and again after restart.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres dsn")

	db, err := sql.Open(database.DriverPostgres, dsn)
	require.NoError(t, err, "open postgres")
	require.NoError(t, database.Migrate(db, database.DriverPostgres), "migrate credential schema")

	return &Postgres{DSN: dsn, DB: db}
}

// Reset empties every credential table.
func (p *Postgres) Reset(ctx context.Context) error {
	for _, table := range credentialTables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
