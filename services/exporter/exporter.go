package exporter

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName   = "manifest.yaml"
	snapshotsTarPrefix = "snapshots"
	manifestVersion    = "1"
)

// snapshotDoc is one snapshot of the exported resource, as served by the API
// and as written into the bundle.
type snapshotDoc struct {
	ResourceID  uuid.UUID      `json:"resource_id" yaml:"resource_id"`
	Snapshot    int64          `json:"snapshot" yaml:"snapshot"`
	Kind        string         `json:"kind" yaml:"kind"`
	Group       string         `json:"group" yaml:"group"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Payload     map[string]any `json:"payload" yaml:"payload"`
	Latest      bool           `json:"latest_snapshot" yaml:"-"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// Export fetches a resource's full snapshot history from the API and writes a
// signed tar.zst bundle containing one YAML document per snapshot.
func Export(ctx context.Context, cfg ExportConfig) (*Manifest, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Kind == "" {
		return nil, errors.New("resource kind is required")
	}
	if cfg.ResourceID == uuid.Nil {
		return nil, errors.New("resource id is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := fetchHistory(ctx, cfg.HTTPClient, cfg.APIBaseURL, cfg.Kind, cfg.ResourceID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.New("resource has no snapshots")
	}

	// Bundles replay oldest-first, so store them that way.
	sort.Slice(docs, func(i, j int) bool { return docs[i].Snapshot < docs[j].Snapshot })
	newest := docs[len(docs)-1]

	var (
		entries []ManifestSnapshot
		bodies  = make(map[string][]byte, len(docs))
	)
	for _, doc := range docs {
		body, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot %d: %w", doc.Snapshot, err)
		}
		sum := sha256.Sum256(body)
		path := fmt.Sprintf("%06d.yaml", doc.Snapshot)
		entries = append(entries, ManifestSnapshot{
			Path:     path,
			Snapshot: doc.Snapshot,
			Size:     int64(len(body)),
			SHA256:   hex.EncodeToString(sum[:]),
		})
		bodies[path] = body
	}

	manifest := &Manifest{
		Version:          manifestVersion,
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		ResourceID:       cfg.ResourceID,
		Kind:             newest.Kind,
		Group:            newest.Group,
		Name:             newest.Name,
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Snapshots:        entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, entries, bodies); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d snapshots)\n", cfg.Output, len(entries))
	return manifest, nil
}

// Import verifies a bundle's signature and digests, then replays its
// snapshots oldest-first as commits against the target API. The imported
// history gets fresh snapshot ids assigned by the receiving registry.
func Import(ctx context.Context, cfg ImportConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifestBytes, files, err := readBundle(ctx, cfg.BundlePath)
	if err != nil {
		return nil, err
	}
	if len(manifestBytes) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))

	docs, err := verifySnapshots(manifest, files)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.New("bundle contains no snapshots")
	}

	group := manifest.Group
	if cfg.Group != "" {
		group = cfg.Group
	}

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	first := docs[0]

	resourceID, err := createResource(ctx, cfg.HTTPClient, baseURL, manifest.Kind, group, first)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cfg.Stdout, "created %s %q as %s\n", manifest.Kind, first.Name, resourceID)

	for i, doc := range docs[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Each replayed commit expects the snapshot id the previous
		// one produced, so interleaved writers abort the import.
		if err := commitResource(ctx, cfg.HTTPClient, baseURL, manifest.Kind, resourceID, doc, int64(i+1)); err != nil {
			return nil, err
		}
		fmt.Fprintf(cfg.Stdout, "replayed snapshot %d\n", doc.Snapshot)
	}

	return &manifest, nil
}

func fetchHistory(ctx context.Context, client *http.Client, baseURL, kind string, id uuid.UUID) ([]snapshotDoc, error) {
	url := fmt.Sprintf("%s/v1/resources/%s/%s/snapshots", strings.TrimRight(baseURL, "/"), kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch history failed: %s", strings.TrimSpace(string(data)))
	}

	var response struct {
		Snapshots []snapshotDoc `json:"snapshots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return response.Snapshots, nil
}

func createResource(ctx context.Context, client *http.Client, baseURL, kind, group string, doc snapshotDoc) (uuid.UUID, error) {
	body := map[string]any{
		"group":       group,
		"name":        doc.Name,
		"description": doc.Description,
		"payload":     doc.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal create request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/resources/%s", baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("post resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return uuid.Nil, fmt.Errorf("create resource failed: %s", strings.TrimSpace(string(data)))
	}

	var response struct {
		Resource struct {
			ID uuid.UUID `json:"id"`
		} `json:"resource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return uuid.Nil, fmt.Errorf("decode create response: %w", err)
	}
	if response.Resource.ID == uuid.Nil {
		return uuid.Nil, errors.New("api response missing resource id")
	}
	return response.Resource.ID, nil
}

func commitResource(ctx context.Context, client *http.Client, baseURL, kind string, id uuid.UUID, doc snapshotDoc, expected int64) error {
	body := map[string]any{
		"name":              doc.Name,
		"description":       doc.Description,
		"payload":           doc.Payload,
		"expected_snapshot": expected,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal commit request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/resources/%s/%s", baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("put resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("replay snapshot %d failed: %s", doc.Snapshot, strings.TrimSpace(string(data)))
	}
	return nil
}

func verifySnapshots(manifest Manifest, files map[string][]byte) ([]snapshotDoc, error) {
	docs := make([]snapshotDoc, 0, len(manifest.Snapshots))
	for _, entry := range manifest.Snapshots {
		tarPath := snapshotsTarPrefix + "/" + entry.Path
		body, ok := files[tarPath]
		if !ok {
			return nil, fmt.Errorf("snapshot %q missing from archive", entry.Path)
		}
		if int64(len(body)) != entry.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", entry.Path, entry.Size, len(body))
		}
		sum := sha256.Sum256(body)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), entry.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", entry.Path)
		}

		var doc snapshotDoc
		if err := yaml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", entry.Path, err)
		}
		if doc.Snapshot != entry.Snapshot {
			return nil, fmt.Errorf("snapshot id mismatch for %q: manifest says %d, document says %d", entry.Path, entry.Snapshot, doc.Snapshot)
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Snapshot < docs[j].Snapshot })
	return docs, nil
}

func writeBundle(output string, manifest []byte, entries []ManifestSnapshot, bodies map[string][]byte) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	now := time.Now().UTC()
	manifestHeader := &tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  now,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		body := bodies[entry.Path]
		header := &tar.Header{
			Name:     snapshotsTarPrefix + "/" + entry.Path,
			Mode:     0o644,
			Size:     int64(len(body)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		if _, err := tw.Write(body); err != nil {
			return fmt.Errorf("write body for %q: %w", entry.Path, err)
		}
	}

	return nil
}

func readBundle(ctx context.Context, path string) ([]byte, map[string][]byte, error) {
	bundleFile, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	defer bundleFile.Close()

	decoder, err := zstd.NewReader(bundleFile)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)

	var (
		manifestBytes []byte
		files         = map[string][]byte{}
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(header.Name))
		if strings.HasPrefix(name, "..") {
			return nil, nil, fmt.Errorf("invalid entry path %q", header.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", name, err)
		}

		if name == manifestFileName {
			manifestBytes = data
			continue
		}
		files[name] = data
	}

	return manifestBytes, files, nil
}
