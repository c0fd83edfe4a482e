//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thunderstriders/lapcounter/pkg/db/migrate"
	database "github.com/thunderstriders/lapcounter/pkg/db/postgres"
)

// SetupTestDB starts a postgres container, applies the migrations and returns a pool
func SetupTestDB() *pgxpool.Pool {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}
	container, err := SetupPostgres(ctx,
		WithPort(port.Port()),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		WithName("lapcounter-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	dbURL := fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres?sslmode=disable",
		host, containerPort.Port())
	return setupPool(ctx, dbURL)
}

// SetupExternalTestDB uses the database referenced by TESTDB_URL
func SetupExternalTestDB() *pgxpool.Pool {
	return setupPool(context.Background(), os.Getenv("TESTDB_URL"))
}

func setupPool(ctx context.Context, dbURL string) *pgxpool.Pool {
	if err := migrate.MigrateDB(dbURL); err != nil {
		log.Fatal(err)
	}
	pool, err := database.InitWithURL(ctx, dbURL)
	if err != nil {
		log.Fatal(err)
	}
	return pool
}

func ClearEventTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from lap_event")
}

func ClearTotalTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from lap_total")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearEventTable(pool)
	ClearTotalTable(pool)
}
