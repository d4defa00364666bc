package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cattle-backendv3/internal/model"
)

// FlushSamples durably places one raw batch. Devices are upserted with
// the most recent instant seen in the batch, then tags, then the
// samples themselves; that order satisfies referential integrity.
func (s *Store) FlushSamples(ctx context.Context, batch []model.Sample) error {
	if len(batch) == 0 {
		return nil
	}

	type deviceSeen struct {
		ip   string
		last model.Sample
	}
	devices := make(map[string]deviceSeen)
	tags := make(map[string]struct{})
	for _, smp := range batch {
		d, ok := devices[smp.DeviceID]
		if !ok || smp.Timestamp.After(d.last.Timestamp) {
			devices[smp.DeviceID] = deviceSeen{ip: smp.IP, last: smp}
		}
		if smp.HasTag() {
			tags[smp.RFID] = struct{}{}
		}
	}

	b := &pgx.Batch{}
	for id, d := range devices {
		b.Queue(`INSERT INTO device (device_id, last_ip, last_seen, status)
			VALUES ($1, $2, $3, 'ONLINE')
			ON CONFLICT (device_id) DO UPDATE
			SET last_ip = EXCLUDED.last_ip, last_seen = EXCLUDED.last_seen, status = 'ONLINE'`,
			id, d.ip, d.last.Timestamp)
	}
	for tag := range tags {
		b.Queue(`INSERT INTO rfid_tag (rfid_id) VALUES ($1) ON CONFLICT DO NOTHING`, tag)
	}
	for _, smp := range batch {
		var rfid *string
		if smp.HasTag() {
			rfid = &smp.RFID
		}
		var temp *float64
		if smp.HasTemp {
			temp = &smp.TempC
		}
		b.Queue(`INSERT INTO output_sensor (time, device_id, rfid_id, weight, temperature, ip)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			smp.Timestamp, smp.DeviceID, rfid, smp.Weight, temp, smp.IP)
	}

	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: flush %d samples: %w", len(batch), err)
	}
	return nil
}

