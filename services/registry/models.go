package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AutoMigrate creates the registry tables on the given handle. Production
// deployments run the embedded goose migrations instead; this exists for
// embedded use and test databases, so the models below carry only
// dialect-neutral column tags and leave the Postgres DDL to the migrations.
func AutoMigrate(orm *gorm.DB) error {
	return orm.AutoMigrate(
		&resourceModel{},
		&snapshotModel{},
		&draftModel{},
		&referenceModel{},
		&tagModel{},
		&resourceTagModel{},
	)
}

type resourceModel struct {
	ID          uuid.UUID         `gorm:"type:text;primaryKey"`
	Kind        string            `gorm:"type:text;not null;index;uniqueIndex:idx_resources_kind_group_name,priority:1"`
	GroupName   string            `gorm:"type:text;not null;uniqueIndex:idx_resources_kind_group_name,priority:2"`
	Name        string            `gorm:"type:text;not null;uniqueIndex:idx_resources_kind_group_name,priority:3"`
	Description string            `gorm:"type:text"`
	Payload     datatypes.JSONMap
	SnapshotID  int64 `gorm:"not null"`
	CreatedAt   time.Time         `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"not null;autoUpdateTime"`
}

func (resourceModel) TableName() string { return "resources" }

func (m resourceModel) toAPI(hasDraft bool) Resource {
	return Resource{
		ID:             m.ID,
		Kind:           Kind(m.Kind),
		Group:          m.GroupName,
		Name:           m.Name,
		Description:    m.Description,
		Payload:        mapFromJSONMap(m.Payload),
		Snapshot:       m.SnapshotID,
		LatestSnapshot: true,
		HasDraft:       hasDraft,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type snapshotModel struct {
	ResourceID  uuid.UUID `gorm:"type:text;primaryKey;autoIncrement:false"`
	SnapshotID  int64     `gorm:"primaryKey;autoIncrement:false"`
	Kind        string    `gorm:"type:text;not null"`
	GroupName   string    `gorm:"type:text;not null"`
	Name        string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	Payload     datatypes.JSONMap
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}

func (snapshotModel) TableName() string { return "snapshots" }

func (m snapshotModel) toAPI(latest int64) Snapshot {
	return Snapshot{
		ResourceID:  m.ResourceID,
		Snapshot:    m.SnapshotID,
		Kind:        Kind(m.Kind),
		Group:       m.GroupName,
		Name:        m.Name,
		Description: m.Description,
		Payload:     mapFromJSONMap(m.Payload),
		Latest:      m.SnapshotID == latest,
		CreatedAt:   m.CreatedAt,
	}
}

type draftModel struct {
	ID             uuid.UUID  `gorm:"type:text;primaryKey"`
	ResourceID     *uuid.UUID `gorm:"type:text;uniqueIndex:idx_drafts_resource_owner,priority:1"`
	Owner          string     `gorm:"type:text;not null;default:'';uniqueIndex:idx_drafts_resource_owner,priority:2"`
	Kind           string     `gorm:"type:text;not null"`
	GroupName      string     `gorm:"type:text;not null"`
	Name           string     `gorm:"type:text"`
	Description    string     `gorm:"type:text"`
	Payload        datatypes.JSONMap
	BaseSnapshotID int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime"`
}

func (draftModel) TableName() string { return "drafts" }

func (m draftModel) toAPI() Draft {
	return Draft{
		ID:           m.ID,
		ResourceID:   m.ResourceID,
		Kind:         Kind(m.Kind),
		Group:        m.GroupName,
		Owner:        m.Owner,
		Name:         m.Name,
		Description:  m.Description,
		Payload:      mapFromJSONMap(m.Payload),
		BaseSnapshot: m.BaseSnapshotID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type referenceModel struct {
	ID               uuid.UUID `gorm:"type:text;primaryKey"`
	OwnerID          uuid.UUID `gorm:"type:text;not null;index"`
	TargetID         uuid.UUID `gorm:"type:text;not null;index"`
	TargetSnapshotID int64     `gorm:"not null"`
	Relation         string    `gorm:"type:text;not null"`
	SubSelection     string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime"`
}

func (referenceModel) TableName() string { return "references" }

func (m referenceModel) toAPI(stale, broken bool) Reference {
	return Reference{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		TargetID:       m.TargetID,
		TargetSnapshot: m.TargetSnapshotID,
		Relation:       m.Relation,
		SubSelection:   m.SubSelection,
		Stale:          stale,
		Broken:         broken,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type tagModel struct {
	Name      string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (tagModel) TableName() string { return "tags" }

type resourceTagModel struct {
	ResourceID uuid.UUID `gorm:"type:text;primaryKey;autoIncrement:false"`
	TagName    string    `gorm:"type:text;primaryKey"`
}

func (resourceTagModel) TableName() string { return "resource_tags" }

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
