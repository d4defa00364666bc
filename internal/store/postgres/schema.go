package postgres

import (
	"context"
	"fmt"
)

// schemaDDL creates every table the pipeline and the read API touch.
// Idempotent; applied on startup.
//
// Two partial unique indexes carry load-bearing invariants:
//   - at most one open ownership window per tag
//   - at most one active model per cow (and one for the NULL bucket)
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS farmer (
		farmer_id     UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		totp_secret   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS cow (
		cow_id        UUID PRIMARY KEY,
		farmer_id     UUID NOT NULL REFERENCES farmer(farmer_id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		date_of_birth DATE,
		gender        TEXT NOT NULL DEFAULT 'UNKNOWN'
	)`,

	`CREATE TABLE IF NOT EXISTS cow_pregnancy (
		pregnancy_id BIGSERIAL PRIMARY KEY,
		cow_id       UUID NOT NULL REFERENCES cow(cow_id) ON DELETE CASCADE,
		time_start   TIMESTAMPTZ NOT NULL,
		time_end     TIMESTAMPTZ,
		CHECK (time_end IS NULL OR time_end >= time_start)
	)`,

	`CREATE TABLE IF NOT EXISTS rfid_tag (
		rfid_id TEXT PRIMARY KEY
	)`,

	`CREATE TABLE IF NOT EXISTS rfid_ownership (
		ownership_id BIGSERIAL PRIMARY KEY,
		rfid_id      TEXT NOT NULL REFERENCES rfid_tag(rfid_id),
		cow_id       UUID NOT NULL REFERENCES cow(cow_id) ON DELETE CASCADE,
		time_start   TIMESTAMPTZ NOT NULL,
		time_end     TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS rfid_ownership_one_open
		ON rfid_ownership (rfid_id) WHERE time_end IS NULL`,

	`CREATE TABLE IF NOT EXISTS device (
		device_id TEXT PRIMARY KEY,
		last_ip   TEXT NOT NULL DEFAULT '',
		last_seen TIMESTAMPTZ,
		status    TEXT NOT NULL DEFAULT 'OFFLINE'
	)`,

	`CREATE TABLE IF NOT EXISTS output_sensor (
		time        TIMESTAMPTZ NOT NULL,
		device_id   TEXT NOT NULL REFERENCES device(device_id),
		rfid_id     TEXT REFERENCES rfid_tag(rfid_id),
		weight      DOUBLE PRECISION NOT NULL DEFAULT 0,
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		ip          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS output_sensor_rfid_time
		ON output_sensor (rfid_id, time DESC)`,
	`CREATE INDEX IF NOT EXISTS output_sensor_device_time
		ON output_sensor (device_id, time DESC)`,

	`CREATE TABLE IF NOT EXISTS eat_session (
		session_id   UUID PRIMARY KEY,
		device_id    TEXT NOT NULL REFERENCES device(device_id),
		rfid_id      TEXT NOT NULL REFERENCES rfid_tag(rfid_id),
		cow_id       UUID NOT NULL REFERENCES cow(cow_id) ON DELETE CASCADE,
		time_start   TIMESTAMPTZ NOT NULL,
		time_end     TIMESTAMPTZ NOT NULL,
		weight_start DOUBLE PRECISION NOT NULL,
		weight_end   DOUBLE PRECISION NOT NULL,
		average_temp DOUBLE PRECISION NOT NULL DEFAULT 0,
		CHECK (time_end > time_start)
	)`,
	`CREATE INDEX IF NOT EXISTS eat_session_cow_start
		ON eat_session (cow_id, time_start DESC)`,

	`CREATE TABLE IF NOT EXISTS machine_learning_model (
		model_id            BIGSERIAL PRIMARY KEY,
		cow_id              UUID REFERENCES cow(cow_id) ON DELETE CASCADE,
		model_version       TEXT NOT NULL,
		model_data          BYTEA NOT NULL,
		training_data_start TIMESTAMPTZ NOT NULL,
		training_data_end   TIMESTAMPTZ NOT NULL,
		metrics             JSONB NOT NULL DEFAULT '{}',
		is_active           BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS mlm_one_active_per_cow
		ON machine_learning_model (COALESCE(cow_id::text, '')) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS anomaly (
		model_id      BIGINT NOT NULL REFERENCES machine_learning_model(model_id) ON DELETE CASCADE,
		session_id    UUID NOT NULL REFERENCES eat_session(session_id) ON DELETE CASCADE,
		anomaly_score DOUBLE PRECISION NOT NULL,
		is_anomaly    BOOLEAN NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (model_id, session_id)
	)`,
}

// EnsureSchema applies the DDL. Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}
