package jobs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/dshills/repoindex/pkg/types"
)

// manifestVersion is bumped when the manifest layout changes
const manifestVersion = 1

type manifest struct {
	Version int           `json:"version"`
	Spec    types.JobSpec `json:"spec"`
}

// EncodeManifest writes a job to w as zstd-compressed JSON
func EncodeManifest(w io.Writer, spec types.JobSpec) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(manifest{Version: manifestVersion, Spec: spec}); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return enc.Close()
}

// DecodeManifest reads a job written by EncodeManifest
func DecodeManifest(r io.Reader) (types.JobSpec, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return types.JobSpec{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	var m manifest
	if err := json.NewDecoder(dec).Decode(&m); err != nil {
		return types.JobSpec{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return types.JobSpec{}, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if err := types.ValidateRepoID(m.Spec.RepoID); err != nil {
		return types.JobSpec{}, err
	}
	return m.Spec, nil
}

// WriteManifest writes a job to path atomically
func WriteManifest(path string, spec types.JobSpec) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := EncodeManifest(tmp, spec); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest file
func ReadManifest(path string) (types.JobSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.JobSpec{}, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return DecodeManifest(f)
}
