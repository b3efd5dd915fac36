package cache

import (
	"path/filepath"
	"time"
)

// Entry records one successful build in the manifest
type Entry struct {
	// Name is the output base name and the manifest key
	Name string `json:"name"`

	// Fingerprint of the build inputs that produced the artifacts
	Fingerprint string `json:"fingerprint"`

	// Archive and Header are file names relative to the output directory
	Archive string `json:"archive"`
	Header  string `json:"header"`

	// Size of the archive, used to detect truncated files
	Size int64 `json:"size"`

	// ToolchainVersion is the full `go version` output
	ToolchainVersion string `json:"toolchain_version"`

	// Sources identifies what was built under Name: the sorted source
	// files, or the package
	Sources []string `json:"sources,omitempty"`

	// Target is the resolved GOOS/GOARCH
	Target string `json:"target"`

	// BuiltAt is when the artifacts were stored
	BuiltAt time.Time `json:"built_at"`
}

// complete reports whether every field a lookup relies on is present
func (e *Entry) complete() bool {
	return e.Name != "" && e.Fingerprint != "" && e.Archive != "" && e.Header != ""
}

// Artifact is the archive and header of a successful build
type Artifact struct {
	Name string

	// Dir is the output directory
	Dir string

	// Archive is the absolute path of lib<Name>.a
	Archive string

	// Header is the absolute path of <Name>.h
	Header string
}

// ArchiveName returns the static library file name for an output name
func ArchiveName(name string) string {
	return "lib" + name + ".a"
}

// HeaderName returns the header file name for an output name
func HeaderName(name string) string {
	return name + ".h"
}

// compilerHeaderName is the header `go build -buildmode=c-archive` writes
// next to lib<name>.a
func compilerHeaderName(name string) string {
	return "lib" + name + ".h"
}

func artifactFor(dir string, e *Entry) *Artifact {
	return &Artifact{
		Name:    e.Name,
		Dir:     dir,
		Archive: filepath.Join(dir, e.Archive),
		Header:  filepath.Join(dir, e.Header),
	}
}
