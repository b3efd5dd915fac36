package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// VersionCacheFile is the version database name inside the state directory
	VersionCacheFile = "toolchain.db"

	// bucketName is the BoltDB bucket holding version strings
	bucketName = "toolchains"
)

// VersionCache remembers `go version` output per compiler binary, keyed by
// its resolved path, size, modification time and GOTOOLCHAIN. Replacing the
// binary or selecting another toolchain changes the key, so a stale version
// is never returned.
type VersionCache struct {
	db *bbolt.DB
}

// OpenVersionCache opens or creates the database at path
func OpenVersionCache(path string) (*VersionCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create version cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open version cache: %w", err)
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create version cache bucket: %w", err)
	}

	return &VersionCache{db: db}, nil
}

// Close closes the database
func (v *VersionCache) Close() error {
	if v == nil || v.db == nil {
		return nil
	}

	return v.db.Close()
}

// Version returns the cached version of compiler, asking inv on a miss.
// A compiler that cannot be resolved bypasses the cache so that inv reports
// the failure.
func (v *VersionCache) Version(ctx context.Context, inv Invoker, compiler string, env map[string]string) (string, error) {
	key, ok := versionKey(compiler, env)
	if !ok || v == nil {
		return inv.Version(ctx, compiler, env)
	}

	var cached string
	_ = v.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(bucketName)).Get(key); data != nil {
			cached = string(data)
		}

		return nil
	})

	if cached != "" {
		return cached, nil
	}

	version, err := inv.Version(ctx, compiler, env)
	if err != nil {
		return "", err
	}

	// A failed write only costs another version query next time
	_ = v.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, []byte(version))
	})

	return version, nil
}

// Len returns the number of cached versions
func (v *VersionCache) Len() int {
	var n int
	_ = v.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})

	return n
}

func versionKey(compiler string, env map[string]string) ([]byte, bool) {
	resolved, err := LookPath(compiler, env["PATH"])
	if err != nil {
		return nil, false
	}

	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}

	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, false
	}

	key := resolved + "\x00" + strconv.FormatInt(info.Size(), 10) + "\x00" + strconv.FormatInt(info.ModTime().UnixNano(), 10) +
		"\x00" + env["GOTOOLCHAIN"]

	return []byte(key), true
}
