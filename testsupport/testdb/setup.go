package testdb

import (
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	tcpg "github.com/thunderstriders/lapcounter/testsupport/tcpostgres"
)

// InitTestDB returns a pool on an empty, migrated database.
// TESTDB_URL selects an external database instead of a container.
func InitTestDB() *pgxpool.Pool {
	var pool *pgxpool.Pool
	if os.Getenv("TESTDB_URL") != "" {
		pool = tcpg.SetupExternalTestDB()
	} else {
		pool = tcpg.SetupTestDB()
	}
	tcpg.ClearAllTables(pool)
	return pool
}
