package registry

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a class of versioned resource tracked by the registry.
type Kind string

const (
	KindQueue               Kind = "queue"
	KindPlugin              Kind = "plugin"
	KindPluginParameterType Kind = "plugin_parameter_type"
	KindEntrypoint          Kind = "entrypoint"
	KindExperiment          Kind = "experiment"
	KindJob                 Kind = "job"
	KindModel               Kind = "model"
	KindArtifact            Kind = "artifact"
)

var kinds = map[Kind]struct{}{
	KindQueue:               {},
	KindPlugin:              {},
	KindPluginParameterType: {},
	KindEntrypoint:          {},
	KindExperiment:          {},
	KindJob:                 {},
	KindModel:               {},
	KindArtifact:            {},
}

// ValidKind reports whether s names a known resource kind.
func ValidKind(s string) bool {
	_, ok := kinds[Kind(s)]
	return ok
}

// Resource is the current, mutable state of a versioned entity. Snapshot is
// the identifier of the newest history entry; it only ever increases.
type Resource struct {
	ID             uuid.UUID      `json:"id"`
	Kind           Kind           `json:"kind"`
	Group          string         `json:"group"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Payload        map[string]any `json:"payload"`
	Snapshot       int64          `json:"snapshot"`
	LatestSnapshot bool           `json:"latest_snapshot"`
	HasDraft       bool           `json:"has_draft"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Snapshot is one immutable historical version of a resource's fields, keyed
// by (resource id, snapshot id).
type Snapshot struct {
	ResourceID  uuid.UUID      `json:"resource_id"`
	Snapshot    int64          `json:"snapshot"`
	Kind        Kind           `json:"kind"`
	Group       string         `json:"group"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload"`
	Latest      bool           `json:"latest_snapshot"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Draft is an uncommitted edit. ResourceID is nil for drafts of resources
// that have not been created yet. Owner is an opaque editing-context string;
// at most one draft exists per (resource, owner).
type Draft struct {
	ID           uuid.UUID      `json:"id"`
	ResourceID   *uuid.UUID     `json:"resource_id,omitempty"`
	Kind         Kind           `json:"kind"`
	Group        string         `json:"group"`
	Owner        string         `json:"owner,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Payload      map[string]any `json:"payload"`
	BaseSnapshot int64          `json:"base_snapshot"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Reference is a snapshot-bound edge from a dependent resource to the
// resource it consumes. Stale and Broken are derived on read, never stored.
type Reference struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	TargetID       uuid.UUID `json:"target_id"`
	TargetSnapshot int64     `json:"target_snapshot"`
	Relation       string    `json:"relation"`
	SubSelection   string    `json:"sub_selection,omitempty"`
	Stale          bool      `json:"stale"`
	Broken         bool      `json:"broken"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewResource carries the fields needed to create a resource.
type NewResource struct {
	Kind        Kind
	Group       string
	Name        string
	Description string
	Payload     map[string]any
}

// Update carries the fields applied by a commit. ExpectedSnapshot, when
// non-zero, is an optimistic-concurrency token: the commit fails with
// ErrConflict unless it matches the resource's current snapshot id.
type Update struct {
	Name             string
	Description      string
	Payload          map[string]any
	ExpectedSnapshot int64
}

// DraftFields is the mutable portion of a draft.
type DraftFields struct {
	Name        string
	Description string
	Payload     map[string]any
}

// NewDraft describes a draft for a resource that does not exist yet.
type NewDraft struct {
	Kind   Kind
	Group  string
	Owner  string
	Fields DraftFields
}

// BindRequest describes a reference to be bound at the target's current
// snapshot.
type BindRequest struct {
	OwnerID      uuid.UUID
	TargetID     uuid.UUID
	Relation     string
	SubSelection string
}
