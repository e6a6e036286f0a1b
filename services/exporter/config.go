package exporter

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ExportConfig configures bundle creation from a running API.
type ExportConfig struct {
	APIBaseURL string
	Kind       string
	ResourceID uuid.UUID
	Output     string
	Signer     *Signer
	HTTPClient *http.Client
	Now        func() time.Time
	Stdout     io.Writer
}

// ImportConfig configures replaying a bundle into a running API.
type ImportConfig struct {
	BundlePath string
	APIBaseURL string
	Group      string // overrides the manifest's group when set
	HTTPClient *http.Client
	Signer     *Signer
	Now        func() time.Time
	Stdout     io.Writer
}
