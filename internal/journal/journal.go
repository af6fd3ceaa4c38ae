package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
)

// Event is one append-only journal record. Events are ordered per
// aggregate by Version and are used for audit and replay, never as the
// source of current state.
type Event struct {
	AggregateType string
	AggregateID   int64
	Version       int64
	EventType     string
	TenantID      int64
	ActorID       int64
	Payload       map[string]any
	OccurredAt    time.Time
}

// Writer appends events on an ambient transaction so the journal entry
// commits or rolls back with the transition that produced it.
type Writer struct {
	dbtx db.DBTX
}

// NewWriter builds a Writer over the given query surface.
func NewWriter(dbtx db.DBTX) *Writer {
	return &Writer{dbtx: dbtx}
}

// Append persists the event with the next version for its aggregate.
func (w *Writer) Append(ctx context.Context, evt Event) error {
	if w == nil || w.dbtx == nil {
		return errors.New("journal: writer not initialised")
	}
	if evt.AggregateType == "" || evt.AggregateID == 0 || evt.EventType == "" {
		return errors.New("journal: aggregate type/id and event type required")
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = w.dbtx.Exec(ctx, `INSERT INTO journal_events (aggregate_type, aggregate_id, version, event_type, tenant_id, actor_id, payload, occurred_at)
SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, COALESCE($7, NOW())
FROM journal_events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		evt.AggregateType, evt.AggregateID, evt.EventType, evt.TenantID, evt.ActorID, payload, nullTime(evt.OccurredAt))
	return err
}

// Reader serves replay and timeline queries.
type Reader struct {
	dbtx db.DBTX
}

// NewReader builds a Reader.
func NewReader(dbtx db.DBTX) *Reader {
	return &Reader{dbtx: dbtx}
}

// ListByAggregate returns the event stream of one aggregate in version order.
func (r *Reader) ListByAggregate(ctx context.Context, aggregateType string, aggregateID int64) ([]Event, error) {
	if r == nil || r.dbtx == nil {
		return nil, errors.New("journal: reader not initialised")
	}
	rows, err := r.dbtx.Query(ctx, `SELECT aggregate_type, aggregate_id, version, event_type, tenant_id, actor_id, payload, occurred_at
FROM journal_events WHERE aggregate_type=$1 AND aggregate_id=$2 ORDER BY version ASC`, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []Event{}
	for rows.Next() {
		var evt Event
		var payload []byte
		if err := rows.Scan(&evt.AggregateType, &evt.AggregateID, &evt.Version, &evt.EventType, &evt.TenantID, &evt.ActorID, &payload, &evt.OccurredAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &evt.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
