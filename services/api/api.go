package api

import (
	"errors"
	"os"
	"time"

	"ledgerd/services/registry"
)

const (
	defaultPresignTTL = 15 * time.Minute

	resourceCommittedTopic = "ledgerd.resources.committed"
	resourceDeletedTopic   = "ledgerd.resources.deleted"
	draftPublishedTopic    = "ledgerd.drafts.published"
	referenceBoundTopic    = "ledgerd.references.bound"
	referenceSyncedTopic   = "ledgerd.references.synced"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	ArtifactBucket string
	PresignTTL     time.Duration
}

// API wires the registry, event publishing, and configuration for the HTTP
// handlers.
type API struct {
	store    *Store
	registry *registry.Store
	config   Config
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.ArtifactBucket == "" {
		cfg.ArtifactBucket = os.Getenv("S3_BUCKET")
	}

	reg, err := registry.NewStore(store.ORM)
	if err != nil {
		return nil, err
	}

	return &API{
		store:    store,
		registry: reg,
		config:   cfg,
	}, nil
}
