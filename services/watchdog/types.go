package watchdog

import (
	"time"

	"github.com/google/uuid"
)

const (
	resourceCommittedSubject = "ledgerd.resources.committed"
	referenceSyncedSubject   = "ledgerd.references.synced"
	referenceStaleSubject    = "ledgerd.references.stale"
)

type commitEvent struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Kind       string    `json:"kind"`
	Snapshot   int64     `json:"snapshot"`
	Name       string    `json:"name"`
}

type syncEvent struct {
	ReferenceID    uuid.UUID `json:"reference_id"`
	TargetSnapshot int64     `json:"target_snapshot"`
}

type referenceModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID          uuid.UUID `gorm:"type:uuid;not null"`
	TargetID         uuid.UUID `gorm:"type:uuid;not null"`
	TargetSnapshotID int64     `gorm:"type:bigint;not null"`
	Relation         string    `gorm:"type:text;not null"`
	SubSelection     string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"type:timestamptz"`
	UpdatedAt        time.Time `gorm:"type:timestamptz"`
}

func (referenceModel) TableName() string { return "references" }
