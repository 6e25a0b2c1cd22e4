package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one audit-log entry. EntityID may be empty for facility-wide
// events.
type Event struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}

// Writer appends events inside the caller's transaction so the event and the
// state change it describes commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ev Event) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	var entityID any
	if ev.EntityID != "" {
		entityID = ev.EntityID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), ev.Type, ev.EntityKind, entityID, ev.ActorID, string(data))
	return err
}
