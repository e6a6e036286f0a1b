package registry

import (
	"context"
	"errors"
	"testing"
)

func TestStale(t *testing.T) {
	tests := []struct {
		name   string
		bound  int64
		latest int64
		want   bool
	}{
		{name: "bound at latest", bound: 3, latest: 3, want: false},
		{name: "bound behind latest", bound: 2, latest: 3, want: true},
		{name: "first snapshot", bound: 1, latest: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stale(tt.bound, tt.latest); got != tt.want {
				t.Fatalf("Stale(%d, %d) = %v, want %v", tt.bound, tt.latest, got, tt.want)
			}
		})
	}
}

func TestBindValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "ep"})
	target := mustCreate(t, store, NewResource{Kind: KindQueue, Group: "g", Name: "q"})

	if _, _, err := store.Bind(ctx, BindRequest{
		OwnerID:  owner.ID,
		TargetID: target.ID,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bind without relation error = %v, want ErrValidation", err)
	}

	if _, _, err := store.Bind(ctx, BindRequest{
		OwnerID:      owner.ID,
		TargetID:     target.ID,
		Relation:     "queue",
		SubSelection: "nonexistent",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bind with bogus sub-selection error = %v, want ErrValidation", err)
	}
}

// An entrypoint bound to a queue keeps resolving the bound snapshot while the
// queue moves on; sync rebinds it to the latest.
func TestQueueEntrypointSyncScenario(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queue := mustCreate(t, store, NewResource{
		Kind:        KindQueue,
		Group:       "g",
		Name:        "tensorflow_cpu",
		Description: "cpu workers",
	})
	entrypoint := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "train_model"})

	ref, target, err := store.Bind(ctx, BindRequest{
		OwnerID:  entrypoint.ID,
		TargetID: queue.ID,
		Relation: "queue",
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if ref.TargetSnapshot != 1 || target.Snapshot != 1 {
		t.Fatalf("bind snapshot = %d (target %d), want 1", ref.TargetSnapshot, target.Snapshot)
	}

	stale, err := store.IsStale(ctx, ref.ID)
	if err != nil {
		t.Fatalf("staleness check: %v", err)
	}
	if stale {
		t.Fatal("fresh reference reported stale")
	}

	if _, err := store.CommitUpdate(ctx, queue.ID, Update{
		Name:        "tensorflow_cpu",
		Description: "renamed workers",
	}); err != nil {
		t.Fatalf("commit queue edit: %v", err)
	}

	stale, err = store.IsStale(ctx, ref.ID)
	if err != nil {
		t.Fatalf("staleness check after commit: %v", err)
	}
	if !stale {
		t.Fatal("reference not stale after target commit")
	}

	// Resolution still returns the bound snapshot's content.
	resolved, err := store.Resolve(ctx, ref.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Snapshot != 1 || resolved.Description != "cpu workers" {
		t.Fatalf("resolve returned %+v, want snapshot 1 content", resolved)
	}

	synced, warning, err := store.Sync(ctx, ref.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if warning != nil {
		t.Fatalf("unexpected warning: %v", warning)
	}
	if synced.TargetSnapshot != 2 {
		t.Fatalf("synced reference at snapshot %d, want 2", synced.TargetSnapshot)
	}

	stale, err = store.IsStale(ctx, ref.ID)
	if err != nil {
		t.Fatalf("staleness check after sync: %v", err)
	}
	if stale {
		t.Fatal("reference still stale after sync")
	}

	resolved, err = store.Resolve(ctx, ref.ID)
	if err != nil {
		t.Fatalf("resolve after sync: %v", err)
	}
	if resolved.Snapshot != 2 || resolved.Description != "renamed workers" {
		t.Fatalf("resolve after sync returned %+v, want snapshot 2 content", resolved)
	}
}

// Syncing a reference whose sub-selected plugin task disappeared clears the
// sub-selection and surfaces a warning instead of failing.
func TestSyncSubSelectionLost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plugin := mustCreate(t, store, NewResource{
		Kind:  KindPlugin,
		Group: "g",
		Name:  "attacks",
		Payload: map[string]any{
			"files": []any{
				map[string]any{"filename": "attacks.py", "contents": "tasks:\n  fgsm: {}\n  pgd: {}\n"},
			},
		},
	})
	entrypoint := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "evaluate_robustness"})

	ref, _, err := store.Bind(ctx, BindRequest{
		OwnerID:      entrypoint.ID,
		TargetID:     plugin.ID,
		Relation:     "plugin",
		SubSelection: "fgsm",
	})
	if err != nil {
		t.Fatalf("bind with sub-selection: %v", err)
	}

	// New plugin version drops the fgsm task.
	if _, err := store.CommitUpdate(ctx, plugin.ID, Update{
		Name: "attacks",
		Payload: map[string]any{
			"files": []any{
				map[string]any{"filename": "attacks.py", "contents": "tasks:\n  pgd: {}\n"},
			},
		},
	}); err != nil {
		t.Fatalf("commit plugin edit: %v", err)
	}

	synced, warning, err := store.Sync(ctx, ref.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if warning == nil {
		t.Fatal("sync dropped the sub-selection without a warning")
	}
	if warning.SubSelection != "fgsm" {
		t.Fatalf("warning names %q, want fgsm", warning.SubSelection)
	}
	if synced.SubSelection != "" {
		t.Fatalf("sub-selection survived sync: %q", synced.SubSelection)
	}
	if synced.TargetSnapshot != 2 {
		t.Fatalf("synced reference at snapshot %d, want 2", synced.TargetSnapshot)
	}
}

// Syncing a reference whose sub-selected task still exists keeps it.
func TestSyncKeepsSurvivingSubSelection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plugin := mustCreate(t, store, NewResource{
		Kind:  KindPlugin,
		Group: "g",
		Name:  "metrics",
		Payload: map[string]any{
			"files": []any{
				map[string]any{"filename": "metrics.py", "contents": "tasks:\n  accuracy: {}\n"},
			},
		},
	})
	owner := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "score"})

	ref, _, err := store.Bind(ctx, BindRequest{
		OwnerID:      owner.ID,
		TargetID:     plugin.ID,
		Relation:     "plugin",
		SubSelection: "accuracy",
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := store.CommitUpdate(ctx, plugin.ID, Update{
		Name: "metrics",
		Payload: map[string]any{
			"files": []any{
				map[string]any{"filename": "metrics.py", "contents": "tasks:\n  accuracy: {}\n  precision: {}\n"},
			},
		},
	}); err != nil {
		t.Fatalf("commit plugin edit: %v", err)
	}

	synced, warning, err := store.Sync(ctx, ref.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if warning != nil {
		t.Fatalf("unexpected warning: %v", warning)
	}
	if synced.SubSelection != "accuracy" {
		t.Fatalf("sub-selection = %q, want accuracy", synced.SubSelection)
	}
}

func TestDanglingReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	model := mustCreate(t, store, NewResource{Kind: KindModel, Group: "g", Name: "classifier"})
	job := mustCreate(t, store, NewResource{Kind: KindJob, Group: "g", Name: "eval-run"})

	ref, _, err := store.Bind(ctx, BindRequest{
		OwnerID:  job.ID,
		TargetID: model.ID,
		Relation: "model",
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := store.DeleteResource(ctx, model.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}

	if _, err := store.Resolve(ctx, ref.ID); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("resolve error = %v, want ErrDanglingReference", err)
	}
	if _, err := store.IsStale(ctx, ref.ID); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("staleness error = %v, want ErrDanglingReference", err)
	}
	if _, _, err := store.Sync(ctx, ref.ID); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("sync error = %v, want ErrDanglingReference", err)
	}

	// Broken is terminal and visible on reads.
	broken, err := store.GetReference(ctx, ref.ID)
	if err != nil {
		t.Fatalf("get reference: %v", err)
	}
	if !broken.Broken {
		t.Fatal("reference to deleted identity not marked broken")
	}
}

func TestListReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "ep"})
	q1 := mustCreate(t, store, NewResource{Kind: KindQueue, Group: "g", Name: "q1"})
	q2 := mustCreate(t, store, NewResource{Kind: KindQueue, Group: "g", Name: "q2"})

	if _, _, err := store.Bind(ctx, BindRequest{OwnerID: owner.ID, TargetID: q1.ID, Relation: "queue"}); err != nil {
		t.Fatalf("bind q1: %v", err)
	}
	if _, _, err := store.Bind(ctx, BindRequest{OwnerID: owner.ID, TargetID: q2.ID, Relation: "fallback_queue"}); err != nil {
		t.Fatalf("bind q2: %v", err)
	}

	outbound, err := store.ListReferences(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list outbound: %v", err)
	}
	if len(outbound) != 2 {
		t.Fatalf("outbound count = %d, want 2", len(outbound))
	}

	inbound, err := store.ListReferencesTo(ctx, q1.ID)
	if err != nil {
		t.Fatalf("list inbound: %v", err)
	}
	if len(inbound) != 1 || inbound[0].Relation != "queue" {
		t.Fatalf("inbound = %+v, want one queue reference", inbound)
	}
}

func TestDeleteReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := mustCreate(t, store, NewResource{Kind: KindEntrypoint, Group: "g", Name: "ep"})
	target := mustCreate(t, store, NewResource{Kind: KindQueue, Group: "g", Name: "q"})

	ref, _, err := store.Bind(ctx, BindRequest{OwnerID: owner.ID, TargetID: target.ID, Relation: "queue"})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := store.DeleteReference(ctx, ref.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteReference(ctx, ref.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
}
