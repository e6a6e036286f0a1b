package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ledgerd/pkg/bus"
)

// Watchdog watches commit events and notifies dependents whose references
// now trail the target's latest snapshot. A reference is notified at most
// once per latest snapshot; syncing it re-arms the notification.
type Watchdog struct {
	orm *gorm.DB
	bus *bus.Bus

	notifiedMu sync.RWMutex
	notified   map[uuid.UUID]int64

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a Watchdog bound to the provided dependencies.
func New(orm *gorm.DB, bus *bus.Bus) (*Watchdog, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	return &Watchdog{
		orm:      orm,
		bus:      bus,
		notified: make(map[uuid.UUID]int64),
	}, nil
}

// Start registers NATS subscriptions and begins processing events.
func (w *Watchdog) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("nil watchdog")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{resourceCommittedSubject, "watchdog-committed", w.handleCommit},
		{referenceSyncedSubject, "watchdog-synced", w.handleSync},
	}

	for _, spec := range specs {
		closer, err := w.bus.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			w.Close()
			return err
		}
		w.subsMu.Lock()
		w.subs = append(w.subs, closer)
		w.subsMu.Unlock()
	}

	return nil
}

// Close tears down active subscriptions.
func (w *Watchdog) Close() error {
	if w == nil {
		return nil
	}

	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	var firstErr error
	for _, sub := range w.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.subs = nil
	return firstErr
}

func (w *Watchdog) handleCommit(ctx context.Context, data []byte) error {
	var evt commitEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ResourceID == uuid.Nil {
		return errors.New("resource_id missing from commit event")
	}
	if evt.Snapshot <= 1 {
		// Snapshot 1 is creation; nothing can reference it yet.
		return nil
	}

	var refs []referenceModel
	if err := w.orm.WithContext(ctx).
		Where("target_id = ? AND target_snapshot_id < ?", evt.ResourceID, evt.Snapshot).
		Find(&refs).Error; err != nil {
		return err
	}

	for _, ref := range refs {
		if !w.shouldNotify(ref.ID, evt.Snapshot) {
			continue
		}

		payload := map[string]any{
			"reference_id":    ref.ID,
			"owner_id":        ref.OwnerID,
			"target_id":       ref.TargetID,
			"target_kind":     evt.Kind,
			"bound_snapshot":  ref.TargetSnapshotID,
			"latest_snapshot": evt.Snapshot,
			"relation":        ref.Relation,
		}
		if err := w.bus.Publish(ctx, referenceStaleSubject, payload); err != nil {
			w.clearNotified(ref.ID)
			return err
		}
	}

	return nil
}

func (w *Watchdog) handleSync(ctx context.Context, data []byte) error {
	var evt syncEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ReferenceID == uuid.Nil {
		return nil
	}
	w.clearNotified(evt.ReferenceID)
	return nil
}

// shouldNotify records the notification and reports whether one should be
// sent. Repeat commit events for a snapshot already notified are suppressed;
// a higher snapshot always notifies again.
func (w *Watchdog) shouldNotify(referenceID uuid.UUID, latest int64) bool {
	w.notifiedMu.Lock()
	defer w.notifiedMu.Unlock()
	if w.notified == nil {
		w.notified = make(map[uuid.UUID]int64)
	}
	if last, ok := w.notified[referenceID]; ok && last >= latest {
		return false
	}
	w.notified[referenceID] = latest
	return true
}

func (w *Watchdog) clearNotified(referenceID uuid.UUID) {
	w.notifiedMu.Lock()
	defer w.notifiedMu.Unlock()
	delete(w.notified, referenceID)
}
