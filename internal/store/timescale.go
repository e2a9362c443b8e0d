package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/geostream/internal/config"
	"fleet-monitor/geostream/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var alertColumns = []string{
	"created_at",
	"alert_id",
	"vehicle_id",
	"trip_id",
	"kind",
	"severity",
	"message",
}

func alertRows(alerts []domain.Alert) [][]interface{} {
	rows := make([][]interface{}, len(alerts))
	for i, a := range alerts {
		rows[i] = []interface{}{
			a.Timestamp,
			a.ID,
			a.VehicleID,
			a.TripID,
			string(a.Kind),
			string(domain.SeverityOf(a.Kind)),
			a.Message,
		}
	}
	return rows
}

// BatchInsertAlerts appends alerts to the fleet_alerts hypertable.
func (s *TimescaleStore) BatchInsertAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"fleet_alerts"},
		alertColumns,
		pgx.CopyFromRows(alertRows(alerts)),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(alerts), err)
	}

	return nil
}
