// Package source validates the inputs of a build and computes the
// fingerprint that identifies its output.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/config"
)

// Extensions of files that belong to a Go package directory
var packageExts = []string{".go", ".c", ".h", ".s", ".S", ".cc", ".cpp", ".cxx", ".hh", ".hpp", ".hxx", ".m", ".syso"}

// Set is a validated source set
type Set struct {
	// Dir is the directory the compiler runs in
	Dir string

	// Files are the source files in compiler order, absolute and deduplicated
	Files []string

	// Package is the package argument passed to the compiler, if any
	Package string

	// PackageFiles are the files of a local package directory
	PackageFiles []string

	// ModuleRoot and ModulePath describe the enclosing module, if any
	ModuleRoot string
	ModulePath string

	// ModuleFiles are go.mod and go.sum of the enclosing module when present
	ModuleFiles []string

	// ModuleSources are the buildable files of every package in the
	// enclosing module, since the sources may import any of them
	ModuleSources []string
}

// Build validates the configured sources. Every missing or unreadable path
// is reported in a single ConfigurationError.
func Build(cfg *config.Config) (*Set, error) {
	if len(cfg.Files) > 0 && cfg.Package != "" {
		return nil, codes.New(codes.ConfigurationError, "source files and package are mutually exclusive")
	}

	if len(cfg.Files) == 0 && cfg.Package == "" {
		return nil, codes.New(codes.ConfigurationError, "no source files or package specified")
	}

	set := &Set{Dir: cfg.Dir}

	var problems []string

	if len(cfg.Files) > 0 {
		set.Files, problems = expandFiles(cfg.Dir, cfg.Files)
	}

	if root, path, err := findModule(cfg.Dir); err != nil {
		problems = append(problems, err.Error())
	} else if root != "" {
		set.ModuleRoot = root
		set.ModulePath = path
	}

	if cfg.Package != "" {
		if err := set.resolvePackage(cfg.Package); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		e := codes.New(codes.ConfigurationError, "invalid source set (%d problem(s))", len(problems))
		e.Details = problems

		return nil, e
	}

	if set.ModuleRoot != "" {
		for _, name := range []string{"go.mod", "go.sum"} {
			path := filepath.Join(set.ModuleRoot, name)
			if _, err := os.Stat(path); err == nil {
				set.ModuleFiles = append(set.ModuleFiles, path)
			}
		}

		sources, err := moduleSources(set.ModuleRoot, cfg.OutDir)
		if err != nil {
			return nil, codes.Wrap(codes.IOError, err, "failed to list module %s", set.ModulePath)
		}

		set.ModuleSources = sources
	}

	return set, nil
}

// Sources returns every source file of the set, in compiler order
func (s *Set) Sources() []string {
	if len(s.Files) > 0 {
		return slices.Clone(s.Files)
	}

	return slices.Clone(s.PackageFiles)
}

// Inputs returns every file whose content affects the build, sorted
func (s *Set) Inputs() []string {
	inputs := append(s.Sources(), s.ModuleFiles...)
	inputs = append(inputs, s.ModuleSources...)
	slices.Sort(inputs)

	return slices.Compact(inputs)
}

// Identity names what the set builds, independent of the order sources were
// configured in. Two sets with the same identity build the same library.
func (s *Set) Identity() []string {
	if s.Package != "" {
		if filepath.IsAbs(s.Package) {
			return []string{s.Package}
		}

		if isLocalPath(s.Package) {
			return []string{filepath.Join(s.Dir, s.Package)}
		}

		return []string{s.Package}
	}

	return slices.Sorted(slices.Values(s.Files))
}

// Args returns the source arguments for the compiler command line
func (s *Set) Args() []string {
	if s.Package != "" {
		return []string{s.Package}
	}

	return slices.Clone(s.Files)
}

// expandFiles resolves entries against dir and expands glob patterns
func expandFiles(dir string, entries []string) (files, problems []string) {
	seen := make(map[string]bool)

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, entry := range entries {
		path := entry
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}

		path = filepath.Clean(path)

		if isPattern(entry) {
			matches, err := doublestar.FilepathGlob(path, doublestar.WithFilesOnly())
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: invalid pattern: %v", entry, err))
				continue
			}

			if len(matches) == 0 {
				problems = append(problems, fmt.Sprintf("%s: no files match", entry))
				continue
			}

			slices.Sort(matches)
			for _, m := range matches {
				add(m)
			}

			continue
		}

		if err := checkReadable(path); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", path, describe(err)))
			continue
		}

		add(path)
	}

	return files, problems
}

func isPattern(entry string) bool {
	return strings.ContainsAny(entry, "*?[{")
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return errors.New("is a directory")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	return f.Close()
}

func describe(err error) string {
	var pathErr *os.PathError

	switch {
	case os.IsNotExist(err):
		return "no such file"
	case os.IsPermission(err):
		return "permission denied"
	case errors.As(err, &pathErr):
		return pathErr.Err.Error()
	default:
		return err.Error()
	}
}

// resolvePackage accepts a directory or an import path
func (s *Set) resolvePackage(pkg string) error {
	if isLocalPath(pkg) {
		dir := pkg
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(s.Dir, dir)
		}

		return s.usePackageDir(filepath.Clean(dir))
	}

	if err := module.CheckImportPath(pkg); err != nil {
		return fmt.Errorf("%s: invalid package: %v", pkg, err)
	}

	s.Package = pkg

	// Packages of the enclosing module are hashed from disk. Anything else
	// is pinned by go.sum.
	if s.ModulePath == "" {
		return nil
	}

	rel, ok := strings.CutPrefix(pkg, s.ModulePath)
	if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
		return nil
	}

	dir := filepath.Join(s.ModuleRoot, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	files, err := packageFiles(dir)
	if err != nil {
		return fmt.Errorf("%s: %v", pkg, err)
	}

	s.PackageFiles = files

	return nil
}

func (s *Set) usePackageDir(dir string) error {
	files, err := packageFiles(dir)
	if err != nil {
		return fmt.Errorf("%s: %v", dir, err)
	}

	s.PackageFiles = files
	s.Package = dir

	// go build treats relative package arguments as import paths unless
	// they start with ./
	if rel, err := filepath.Rel(s.Dir, dir); err == nil && !strings.HasPrefix(rel, "..") {
		s.Package = "./" + filepath.ToSlash(rel)
		if rel == "." {
			s.Package = "."
		}
	}

	return nil
}

func isLocalPath(pkg string) bool {
	return pkg == "." || pkg == ".." ||
		strings.HasPrefix(pkg, "./") || strings.HasPrefix(pkg, "../") ||
		strings.HasPrefix(pkg, `.\`) || strings.HasPrefix(pkg, `..\`) ||
		filepath.IsAbs(pkg)
}

// packageFiles lists the buildable files of a package directory
func packageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("no such package directory")
		}

		return nil, err
	}

	var files []string
	hasGo := false

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if !slices.Contains(packageExts, ext) {
			continue
		}

		if ext == ".go" {
			hasGo = true
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	if !hasGo {
		return nil, errors.New("no Go files in package directory")
	}

	slices.Sort(files)

	return files, nil
}

// findModule walks up from dir to the nearest go.mod
func findModule(dir string) (root, path string, err error) {
	for current := dir; ; {
		gomod := filepath.Join(current, "go.mod")

		data, err := os.ReadFile(gomod)
		if err == nil {
			f, err := modfile.ParseLax(gomod, data, nil)
			if err != nil {
				return "", "", fmt.Errorf("%s: %v", gomod, err)
			}

			if f.Module == nil {
				return "", "", fmt.Errorf("%s: no module directive", gomod)
			}

			return current, f.Module.Mod.Path, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", "", nil
		}

		current = parent
	}
}

// moduleSources lists the package files under root. Nested modules,
// testdata and hidden or underscore directories are not part of the module;
// skip (the output directory) and directories tagged as caches, such as a
// Cargo target directory, are left out as well.
func moduleSources(root, skip string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}

			if name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				(skip != "" && path == skip) || exists(filepath.Join(path, "go.mod")) || exists(filepath.Join(path, "CACHEDIR.TAG")) {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			return nil
		}

		if slices.Contains(packageExts, filepath.Ext(name)) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)

	return files, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
