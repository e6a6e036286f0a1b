package exporter

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata at the root of a history bundle. It pins
// the exported resource's identity plus a digest per snapshot document so an
// import can detect tampering before replaying anything.
type Manifest struct {
	Version          string             `yaml:"version"`
	CreatedAt        time.Time          `yaml:"created_at"`
	ResourceID       uuid.UUID          `yaml:"resource_id"`
	Kind             string             `yaml:"kind"`
	Group            string             `yaml:"group"`
	Name             string             `yaml:"name"`
	Signer           string             `yaml:"signer,omitempty"`
	SigningPublicKey string             `yaml:"signing_public_key,omitempty"`
	Signature        string             `yaml:"signature,omitempty"`
	Snapshots        []ManifestSnapshot `yaml:"snapshots"`
}

// SigningBytes marshals the manifest without its signature for
// signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// ManifestSnapshot describes a single snapshot document within the bundle.
type ManifestSnapshot struct {
	Path     string `yaml:"path"`
	Snapshot int64  `yaml:"snapshot"`
	Size     int64  `yaml:"size"`
	SHA256   string `yaml:"sha256"`
}
