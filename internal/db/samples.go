package db

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/processor"
)

// SampleStore adapts a DB to the processor's sink interfaces. Write failures
// are logged and counted, never returned, so dispatch never blocks on storage.
type SampleStore struct {
	db       *DB
	failures atomic.Uint64
}

// NewSampleStore creates a sink writing to db.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

// PostSample stores a sample without packet context or timestamp.
func (s *SampleStore) PostSample(status1, status2 uint8, presentValue float32) {
	_, err := s.db.Exec(
		`INSERT INTO tspv_samples (sample_id, status1, status2, present_value) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), status1, status2, presentValue,
	)
	s.check(err)
}

// PostTimedSample stores a sample with its absolute epoch.
func (s *SampleStore) PostTimedSample(smp processor.Sample) {
	if err := s.db.RecordSample(smp); err != nil {
		s.check(err)
	}
}

func (s *SampleStore) check(err error) {
	if err == nil {
		return
	}
	s.failures.Add(1)
	monitoring.Logf("failed to record sample: %v", err)
}

// Failures returns the number of samples that could not be written.
func (s *SampleStore) Failures() uint64 {
	return s.failures.Load()
}

// RecordSample inserts one dispatched sample.
func (db *DB) RecordSample(s processor.Sample) error {
	_, err := db.Exec(
		`INSERT INTO tspv_samples (
			sample_id, packet_id, version, slot, status1, status2,
			present_value, epoch, recovered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.PacketID, s.Version, s.Slot, s.Status1, s.Status2,
		s.PresentValue, s.Epoch, s.Recovered,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample for packet %d slot %d: %w", s.PacketID, s.Slot, err)
	}
	return nil
}

// StoredSample is a row of tspv_samples.
type StoredSample struct {
	ID           string    `json:"id"`
	PacketID     *uint8    `json:"packet_id,omitempty"`
	Slot         *int      `json:"slot,omitempty"`
	Status1      uint8     `json:"status1"`
	Status2      uint8     `json:"status2"`
	PresentValue float32   `json:"present_value"`
	Epoch        *int64    `json:"epoch,omitempty"`
	Recovered    bool      `json:"recovered"`
	ReceivedAt   time.Time `json:"received_at"`
}

// RecentSamples returns up to limit samples, newest first.
func (db *DB) RecentSamples(limit int) ([]StoredSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT sample_id, packet_id, slot, status1, status2, present_value, epoch, recovered, received_at
		FROM tspv_samples ORDER BY received_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []StoredSample
	for rows.Next() {
		var (
			s        StoredSample
			packetID sql.NullInt64
			slot     sql.NullInt64
			epoch    sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &packetID, &slot, &s.Status1, &s.Status2, &s.PresentValue, &epoch, &s.Recovered, &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if packetID.Valid {
			id := uint8(packetID.Int64)
			s.PacketID = &id
		}
		if slot.Valid {
			n := int(slot.Int64)
			s.Slot = &n
		}
		if epoch.Valid {
			e := epoch.Int64
			s.Epoch = &e
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordDispatchLog stores a processor snapshot for later inspection.
func (db *DB) RecordDispatchLog(s processor.Snapshot) error {
	_, err := db.Exec(
		`INSERT INTO dispatch_log (last_processed_id, gaps, recovered, unavailable, lost, rejected)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.LastProcessedID, s.Stats.Gaps, s.Stats.Recovered, s.Stats.Unavailable, s.Stats.Lost, s.Stats.Rejected,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch log: %w", err)
	}
	return nil
}
