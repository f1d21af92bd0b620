package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// Archive persists observations after they have been accepted by the remote
// store, as a local query surface for operators. It is never consulted on
// the upload path and holds no undelivered data.
type Archive struct {
	pool *pgxpool.Pool
}

type Config struct {
	Host     string
	Port     string
	DBName   string
	User     string
	Password string
	SSLMode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func New(ctx context.Context, cfg Config) (*Archive, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	err = initialize(ctx, pool)
	if err != nil {
		return nil, err
	}

	return &Archive{pool: pool}, nil
}

func connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnStr())
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return pool, nil
}

func initialize(ctx context.Context, pool *pgxpool.Pool) error {
	log := logging.GetFromContext(ctx)

	ddl := `
	CREATE TABLE IF NOT EXISTS delivered_observations (
		row_id          BIGSERIAL,
		application     TEXT NOT NULL,
		sensor_id       TEXT NOT NULL,
		property        TEXT NOT NULL,
		result          JSONB NOT NULL,
		phenomenon_time timestamp with time zone NOT NULL,
		delivered_on    timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (row_id)
	);

	CREATE INDEX IF NOT EXISTS delivered_sensor_idx ON delivered_observations (sensor_id, property, phenomenon_time);
	`

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Error("could not begin transaction", "err", err.Error())
		return err
	}

	_, err = tx.Exec(ctx, ddl)
	if err != nil {
		log.Error("could not execute ddl statement", "err", err.Error())
		tx.Rollback(ctx)
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		log.Error("could not commit transaction", "err", err.Error())
		return err
	}

	return nil
}

// Insert records one delivered observation.
func (a *Archive) Insert(ctx context.Context, appName string, sensorID sensorthings.SensorID, property sensorthings.ObservedProperty, obs sensorthings.Observation) error {
	phenomenonTime := time.Now().UTC()
	if obs.PhenomenonTime != nil {
		phenomenonTime = *obs.PhenomenonTime
	}

	insert := `INSERT INTO delivered_observations(application, sensor_id, property, result, phenomenon_time)
		VALUES (@application, @sensor_id, @property, @result, @phenomenon_time);`

	_, err := a.pool.Exec(ctx, insert, pgx.NamedArgs{
		"application":     appName,
		"sensor_id":       string(sensorID),
		"property":        string(property),
		"result":          obs.Result,
		"phenomenon_time": phenomenonTime,
	})

	return err
}

func (a *Archive) Close() {
	a.pool.Close()
}
