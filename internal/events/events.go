// Package events is the fire-and-forget sink for domain events. The
// attempt core publishes; delivery failures are logged by the caller
// and never affect the triggering operation.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	AttemptStarted  = "attempt.started"
	AttemptFinished = "attempt.finished"
	AttemptGraded   = "attempt.graded"
)

type Publisher interface {
	// Publish records one event. key is the natural key (attempt id).
	Publish(ctx context.Context, typ, key string, payload any) error
}

// LogRepo appends events to the event_log table.
type LogRepo struct {
	db *sql.DB
}

func NewLogRepo(db *sql.DB) *LogRepo { return &LogRepo{db: db} }

func (r *LogRepo) Publish(ctx context.Context, typ, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		typ, key, string(data), time.Now().Unix())
	return err
}

// SlogPublisher just logs events; used when no event store is wired.
type SlogPublisher struct {
	Log *slog.Logger
}

func (p SlogPublisher) Publish(_ context.Context, typ, key string, payload any) error {
	p.Log.Info("event", "type", typ, "key", key, "payload", payload)
	return nil
}
