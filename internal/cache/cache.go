// Package cache records which build produced the artifacts in an output
// directory, so an unchanged build can reuse them without invoking the
// compiler.
//
// Each output directory holds:
//
//  1. lib<name>.a and <name>.h for every output name built into it
//  2. .gobuild-manifest.json mapping each name to the fingerprint of the
//     inputs that produced its artifacts
//  3. .gobuild/ for staging directories and the toolchain version cache
//  4. .gobuild.lock, the advisory lock serializing builds into the directory
//
// The manifest is only written after the artifacts are in place, so it
// never names an artifact that does not exist. A manifest that cannot be
// trusted is reported as CacheCorruption and treated as a miss.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

// StateDir holds staging directories and the toolchain version cache
const StateDir = ".gobuild"

// Cache manages the manifest and artifacts of one output directory
type Cache struct {
	dir string
}

// Stats summarizes an output directory
type Stats struct {
	Entries int
	Bytes   int64
}

// Open creates the output directory if needed and returns its cache
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to create output directory")
	}

	return &Cache{dir: dir}, nil
}

// Dir returns the output directory
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) manifestPath() string {
	return filepath.Join(c.dir, ManifestFile)
}

// Lookup returns the entry for name if its fingerprint matches and its
// artifacts are intact. A nil entry is a miss. A non-nil error is always
// CacheCorruption and also a miss; callers report it as a warning.
func (c *Cache) Lookup(name, fingerprint string) (*Entry, error) {
	m, err := readManifest(c.manifestPath())
	if err != nil {
		return nil, err
	}

	entry, ok := m.Entries[name]
	if !ok || entry == nil {
		return nil, nil
	}

	if !entry.complete() || entry.Name != name {
		return nil, codes.New(codes.CacheCorruption, "cache manifest entry for %q is incomplete", name)
	}

	if entry.Fingerprint != fingerprint {
		return nil, nil
	}

	art := artifactFor(c.dir, entry)

	info, err := os.Stat(art.Archive)
	if err != nil {
		return nil, codes.Wrap(codes.CacheCorruption, err, "cached archive for %q is missing", name)
	}

	if entry.Size > 0 && info.Size() != entry.Size {
		return nil, codes.New(codes.CacheCorruption, "cached archive for %q has size %d, expected %d", name, info.Size(), entry.Size)
	}

	if _, err := os.Stat(art.Header); err != nil {
		return nil, codes.Wrap(codes.CacheCorruption, err, "cached header for %q is missing", name)
	}

	return entry, nil
}

// Artifact returns the artifact paths of an entry
func (c *Cache) Artifact(entry *Entry) *Artifact {
	return artifactFor(c.dir, entry)
}

// NewStage creates an empty staging directory for one compiler run
func (c *Cache) NewStage() (string, error) {
	root := filepath.Join(c.dir, StateDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", codes.Wrap(codes.IOError, err, "failed to create state directory")
	}

	stage := filepath.Join(root, "stage-"+uuid.NewString())
	if err := os.Mkdir(stage, 0o755); err != nil {
		return "", codes.Wrap(codes.IOError, err, "failed to create staging directory")
	}

	return stage, nil
}

// RemoveStage deletes a staging directory and anything left in it
func (c *Cache) RemoveStage(stage string) error {
	return os.RemoveAll(stage)
}

// Store moves the compiler outputs from stage into the output directory and
// then records entry in the manifest. Any previous entry for the name is
// dropped before the files are replaced. entry's artifact fields are filled in.
func (c *Cache) Store(entry *Entry, stage string) (*Artifact, error) {
	stagedArchive, stagedHeader, err := stagedOutputs(stage, entry.Name)
	if err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to store artifacts for %q", entry.Name)
	}

	entry.Archive = ArchiveName(entry.Name)
	entry.Header = HeaderName(entry.Name)
	entry.Size = fileSize(stagedArchive)

	if entry.BuiltAt.IsZero() {
		entry.BuiltAt = time.Now().UTC()
	}

	art := artifactFor(c.dir, entry)

	// An untrusted manifest is replaced rather than merged into
	m, err := readManifest(c.manifestPath())
	if err != nil {
		m = newManifest()
	}

	// The previous entry goes before its files are overwritten, so a store
	// that fails halfway leaves a miss and never a hit on mixed outputs
	if _, ok := m.Entries[entry.Name]; ok || err != nil {
		delete(m.Entries, entry.Name)

		if err := writeManifest(c.manifestPath(), m); err != nil {
			return nil, codes.Wrap(codes.IOError, err, "failed to write cache manifest")
		}
	}

	if err := moveFile(stagedArchive, art.Archive); err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to store archive")
	}

	if err := moveFile(stagedHeader, art.Header); err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to store header")
	}

	m.Entries[entry.Name] = entry

	if err := writeManifest(c.manifestPath(), m); err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to write cache manifest")
	}

	return art, nil
}

// Sources returns the source identity recorded for name, or nil when name
// has no entry or was recorded without one
func (c *Cache) Sources(name string) ([]string, error) {
	m, err := readManifest(c.manifestPath())
	if err != nil {
		return nil, err
	}

	if entry := m.Entries[name]; entry != nil {
		return entry.Sources, nil
	}

	return nil, nil
}

// Entries returns the manifest entries keyed by name
func (c *Cache) Entries() (map[string]*Entry, error) {
	m, err := readManifest(c.manifestPath())
	if err != nil {
		return nil, err
	}

	return m.Entries, nil
}

// Stats returns the number of recorded builds and the size of their artifacts
func (c *Cache) Stats() (Stats, error) {
	entries, err := c.Entries()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Entries: len(entries)}
	for _, entry := range entries {
		if entry == nil || !entry.complete() {
			continue
		}

		art := artifactFor(c.dir, entry)
		stats.Bytes += fileSize(art.Archive) + fileSize(art.Header)
	}

	return stats, nil
}

// Clear removes every recorded artifact, the manifest and the state
// directory. It returns the number of entries removed. A corrupt manifest is
// removed as well.
func (c *Cache) Clear() (int, error) {
	entries, err := c.Entries()
	if err != nil && !codes.Is(err, codes.CacheCorruption) {
		return 0, err
	}

	for _, entry := range entries {
		if entry == nil {
			continue
		}

		for _, name := range []string{entry.Archive, entry.Header} {
			if name == "" || strings.ContainsAny(name, `/\`) {
				continue
			}

			if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
				return 0, codes.Wrap(codes.IOError, err, "failed to remove %s", name)
			}
		}
	}

	if err := os.Remove(c.manifestPath()); err != nil && !os.IsNotExist(err) {
		return 0, codes.Wrap(codes.IOError, err, "failed to remove cache manifest")
	}

	if err := os.RemoveAll(filepath.Join(c.dir, StateDir)); err != nil {
		return 0, codes.Wrap(codes.IOError, err, "failed to remove %s", StateDir)
	}

	return len(entries), nil
}

// String implements fmt.Stringer for log output
func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %d bytes", s.Entries, s.Bytes)
}
