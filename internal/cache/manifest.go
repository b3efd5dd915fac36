package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

const (
	// ManifestFile is the manifest's name inside the output directory
	ManifestFile = ".gobuild-manifest.json"

	// ManifestVersion is the only manifest format this package reads
	ManifestVersion = 1
)

type manifest struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
}

func newManifest() *manifest {
	return &manifest{Version: ManifestVersion, Entries: make(map[string]*Entry)}
}

// readManifest loads the manifest at path. A missing file is an empty
// manifest; anything unreadable is CacheCorruption.
func readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newManifest(), nil
		}

		return nil, codes.Wrap(codes.CacheCorruption, err, "failed to read cache manifest")
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, codes.Wrap(codes.CacheCorruption, err, "invalid cache manifest %s", path)
	}

	if m.Version != ManifestVersion {
		return nil, codes.New(codes.CacheCorruption, "unsupported cache manifest version %d", m.Version)
	}

	if m.Entries == nil {
		m.Entries = make(map[string]*Entry)
	}

	return &m, nil
}

// writeManifest replaces the manifest atomically: a reader sees either the
// previous content or the new one, never a partial write
func writeManifest(path string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ManifestFile+".*.tmp")
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
