package api

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"ledgerd/pkg/bus"
	gos3 "ledgerd/pkg/s3"
)

// Store holds external dependencies required by the API layer. DB carries the
// raw pool shared with the auditor; ORM backs the registry. S3 and Bus are
// optional: artifact uploads and event publishing degrade gracefully without
// them.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}
