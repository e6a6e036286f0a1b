package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Resource struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Kind        string            `gorm:"type:text;not null;index;uniqueIndex:idx_resources_kind_group_name,priority:1"`
	GroupName   string            `gorm:"type:text;not null;uniqueIndex:idx_resources_kind_group_name,priority:2"`
	Name        string            `gorm:"type:text;not null;uniqueIndex:idx_resources_kind_group_name,priority:3"`
	Description string            `gorm:"type:text"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	SnapshotID  int64             `gorm:"type:bigint;not null"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Snapshot struct {
	ResourceID  uuid.UUID         `gorm:"type:uuid;primaryKey;autoIncrement:false"`
	SnapshotID  int64             `gorm:"type:bigint;primaryKey;autoIncrement:false"`
	Kind        string            `gorm:"type:text;not null"`
	GroupName   string            `gorm:"type:text;not null"`
	Name        string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Draft struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ResourceID     *uuid.UUID        `gorm:"type:uuid;uniqueIndex:idx_drafts_resource_owner,priority:1"`
	Owner          string            `gorm:"type:text;not null;default:'';uniqueIndex:idx_drafts_resource_owner,priority:2"`
	Kind           string            `gorm:"type:text;not null"`
	GroupName      string            `gorm:"type:text;not null"`
	Name           string            `gorm:"type:text"`
	Description    string            `gorm:"type:text"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb"`
	BaseSnapshotID int64             `gorm:"type:bigint;not null;default:0"`
	CreatedAt      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Reference struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID          uuid.UUID `gorm:"type:uuid;not null;index"`
	TargetID         uuid.UUID `gorm:"type:uuid;not null;index"`
	TargetSnapshotID int64     `gorm:"type:bigint;not null"`
	Relation         string    `gorm:"type:text;not null"`
	SubSelection     string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt        time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Tag struct {
	Name      string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ResourceTag struct {
	ResourceID uuid.UUID `gorm:"type:uuid;primaryKey;autoIncrement:false"`
	TagName    string    `gorm:"type:text;primaryKey"`
	Resource   Resource  `gorm:"foreignKey:ResourceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Tag        Tag       `gorm:"foreignKey:TagName;references:Name;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Resource{},
		&Snapshot{},
		&Draft{},
		&Reference{},
		&Tag{},
		&ResourceTag{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&ResourceTag{}, "Resource"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ResourceTag{}, "Tag"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&ResourceTag{},
		&Tag{},
		&Reference{},
		&Draft{},
		&Snapshot{},
		&Resource{},
	); err != nil {
		return err
	}

	return nil
}
