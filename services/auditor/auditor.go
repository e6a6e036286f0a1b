package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerd/pkg/bus"
	"ledgerd/pkg/db"
)

// Auditor consumes registry events from NATS and writes an audit trail into
// the database, recording field-level payload diffs between snapshots.
type Auditor struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	subs  []io.Closer
}

// New constructs an Auditor for the provided dependencies.
func New(pool *pgxpool.Pool, bus *bus.Bus) (*Auditor, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	return &Auditor{pool: pool, bus: bus}, nil
}

// Start subscribes to the registry subjects and processes events until ctx is
// cancelled. Each subject gets its own durable consumer so replays after a
// restart resume where they left off.
func (a *Auditor) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("nil auditor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	subjects := []struct {
		subject string
		durable string
		handler func(ctx context.Context, data []byte) error
	}{
		{resourceCommittedSubject, "auditor-committed", a.handleCommit},
		{resourceDeletedSubject, "auditor-deleted", a.handleDelete},
		{referenceSyncedSubject, "auditor-synced", a.handleSync},
	}

	for _, s := range subjects {
		sub, err := a.bus.Subscribe(ctx, s.subject, s.durable, s.handler)
		if err != nil {
			a.Close()
			return err
		}
		a.subMu.Lock()
		a.subs = append(a.subs, sub)
		a.subMu.Unlock()
	}

	return nil
}

// Close stops all subscriptions.
func (a *Auditor) Close() error {
	if a == nil {
		return nil
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	var first error
	for _, sub := range a.subs {
		if err := sub.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.subs = nil
	return first
}

func (a *Auditor) handleCommit(ctx context.Context, data []byte) error {
	var evt commitEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ResourceID == uuid.Nil {
		return errors.New("resource_id missing from event")
	}
	if evt.Snapshot <= 0 {
		return errors.New("snapshot missing from event")
	}

	current, err := a.snapshotPayload(ctx, evt.ResourceID, evt.Snapshot)
	if err != nil {
		// The resource may already be deleted by the time the event is
		// processed; nothing left to audit against.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	previous := map[string]any{}
	if evt.Snapshot > 1 {
		previous, err = a.snapshotPayload(ctx, evt.ResourceID, evt.Snapshot-1)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}

	return a.insertAudit(ctx, actionCommitted, evt.ResourceID.String(), commitDetails(evt, computeDiff(previous, current)))
}

func (a *Auditor) handleDelete(ctx context.Context, data []byte) error {
	var evt deleteEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ResourceID == uuid.Nil {
		return errors.New("resource_id missing from event")
	}

	return a.insertAudit(ctx, actionDeleted, evt.ResourceID.String(), deleteDetails(evt))
}

func (a *Auditor) handleSync(ctx context.Context, data []byte) error {
	var evt syncEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ReferenceID == uuid.Nil {
		return errors.New("reference_id missing from event")
	}

	return a.insertAudit(ctx, actionSynced, evt.ReferenceID.String(), syncDetails(evt))
}

// The detail builders always record the deduplication key under "snapshot";
// insertAudit reads it back from the same map, so the stored row and the
// redelivery check can never disagree on the key.

func commitDetails(evt commitEvent, changes map[string]map[string]any) map[string]any {
	return map[string]any{
		"resource_id": evt.ResourceID.String(),
		"kind":        evt.Kind,
		"name":        evt.Name,
		"snapshot":    evt.Snapshot,
		"changes":     changes,
	}
}

func deleteDetails(evt deleteEvent) map[string]any {
	return map[string]any{
		"resource_id": evt.ResourceID.String(),
		"kind":        evt.Kind,
	}
}

func syncDetails(evt syncEvent) map[string]any {
	details := map[string]any{
		"reference_id": evt.ReferenceID.String(),
		"owner_id":     evt.OwnerID.String(),
		"target_id":    evt.TargetID.String(),
		"snapshot":     evt.TargetSnapshot,
	}
	if evt.SubSelectionLost != "" {
		details["sub_selection_lost"] = evt.SubSelectionLost
	}
	return details
}

// dedupeSnapshot extracts the "snapshot" detail used to tell redeliveries
// apart from genuinely new events. Events without one (deletes) dedupe on
// (action, obj) alone.
func dedupeSnapshot(details map[string]any) int64 {
	switch v := details["snapshot"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (a *Auditor) snapshotPayload(ctx context.Context, resourceID uuid.UUID, snapshotID int64) (map[string]any, error) {
	var row snapshotRow
	err := db.Get(ctx, a.pool, &row, `
SELECT snapshot_id, payload, created_at
FROM snapshots
WHERE resource_id = $1 AND snapshot_id = $2
`, resourceID, snapshotID)
	if err != nil {
		return nil, err
	}
	if len(row.Payload) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// insertAudit records one audit row per (action, obj, snapshot). JetStream
// redeliveries replay events, so the insert skips rows already written.
func (a *Auditor) insertAudit(ctx context.Context, action, obj string, details map[string]any) error {
	snapshot := dedupeSnapshot(details)

	detailsBytes, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, a.pool, `
INSERT INTO audit (actor, action, obj, details)
SELECT $1, $2, $3, $4::jsonb
WHERE NOT EXISTS (
	SELECT 1 FROM audit
	WHERE action = $2 AND obj = $3
	  AND ($5::bigint = 0 OR (details->>'snapshot')::bigint = $5::bigint)
)
`, auditActor, action, obj, detailsBytes, snapshot)
	return err
}

func computeDiff(previous, current map[string]any) map[string]map[string]any {
	if previous == nil {
		previous = map[string]any{}
	}
	if current == nil {
		current = map[string]any{}
	}

	diff := make(map[string]map[string]any)

	for key, prevVal := range previous {
		curVal, ok := current[key]
		if !ok {
			diff[key] = map[string]any{"old": prevVal, "new": nil}
			continue
		}
		if !reflect.DeepEqual(prevVal, curVal) {
			diff[key] = map[string]any{"old": prevVal, "new": curVal}
		}
	}

	for key, curVal := range current {
		if _, seen := previous[key]; seen {
			continue
		}
		diff[key] = map[string]any{"old": nil, "new": curVal}
	}

	return diff
}
