package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatal().Err(err).Msg("Connection failed, is TimescaleDB running? (docker-compose up -d timescaledb)")
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	createExtension(ctx, conn)
	createAlertsTable(ctx, conn)
	createIndexes(ctx, conn)
	verify(ctx, conn)

	fmt.Println("\n✅ Alert history schema ready")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func createExtension(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Extensions ──────────────────────────────────")
	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// The kind check mirrors domain.AlertKind; kind is empty for alert types
// the stream sent but this build does not recognise.
func createAlertsTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── fleet_alerts table ──────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS fleet_alerts (
			created_at  TIMESTAMPTZ NOT NULL,
			alert_id    TEXT        NOT NULL,
			vehicle_id  TEXT        NOT NULL DEFAULT '',
			trip_id     TEXT        NOT NULL DEFAULT '',
			kind        TEXT        NOT NULL DEFAULT '',
			severity    TEXT        NOT NULL,
			message     TEXT        NOT NULL,

			CONSTRAINT chk_alert_kind CHECK (
				kind IN ('', 'GEOFENCE_ENTRY', 'GEOFENCE_EXIT', 'SPEED_VIOLATION',
				         'MAINTENANCE', 'TRIP_CLOSED', 'PICKUP_ARRIVED')
			),
			CONSTRAINT chk_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			)
		);
	`, "fleet_alerts table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'fleet_alerts',
			'created_at',
			if_not_exists => TRUE
		);
	`, "fleet_alerts converted to hypertable")
}

func createIndexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Indexes ─────────────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_alerts_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_vehicle_time
				  ON fleet_alerts (vehicle_id, created_at DESC);`,
			why: "alert history for one vehicle",
		},
		{
			name: "idx_alerts_kind_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_kind_time
				  ON fleet_alerts (kind, created_at DESC);`,
			why: "geofence or speed alerts across the fleet",
		},
		{
			name: "idx_alerts_alert_id",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_alert_id
				  ON fleet_alerts (alert_id);`,
			why: "lookup by stream alert id",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql, fmt.Sprintf("%-28s ← %s", idx.name, idx.why))
	}
}

func verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Verification ────────────────────────────────")

	var hypertable string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'fleet_alerts'
	`).Scan(&hypertable)
	if err != nil {
		log.Fatal().Err(err).Msg("fleet_alerts is not a hypertable")
	}
	fmt.Printf("  ✓ hypertable: %s\n", hypertable)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename = 'fleet_alerts'
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatal().Err(err).Msg("Index check failed")
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatal().Err(err).Str("sql", sql).Msg("FAILED: " + label)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
