package auditor

import (
	"time"

	"github.com/google/uuid"
)

const (
	resourceCommittedSubject = "ledgerd.resources.committed"
	resourceDeletedSubject   = "ledgerd.resources.deleted"
	referenceSyncedSubject   = "ledgerd.references.synced"

	auditActor = "registry"

	actionCommitted = "resource_committed"
	actionDeleted   = "resource_deleted"
	actionSynced    = "reference_synced"
)

type commitEvent struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Kind       string    `json:"kind"`
	Snapshot   int64     `json:"snapshot"`
	Name       string    `json:"name"`
}

type deleteEvent struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Kind       string    `json:"kind"`
}

type syncEvent struct {
	ReferenceID      uuid.UUID `json:"reference_id"`
	OwnerID          uuid.UUID `json:"owner_id"`
	TargetID         uuid.UUID `json:"target_id"`
	TargetSnapshot   int64     `json:"target_snapshot"`
	SubSelectionLost string    `json:"sub_selection_lost"`
}

type snapshotRow struct {
	SnapshotID int64     `db:"snapshot_id"`
	Payload    []byte    `db:"payload"`
	CreatedAt  time.Time `db:"created_at"`
}
