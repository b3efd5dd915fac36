package compiler

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// LookPath searches path (a PATH value) for an executable named file.
// Names containing a separator are checked directly. An empty path falls
// back to the process's own PATH.
func LookPath(file, path string) (string, error) {
	if strings.ContainsRune(file, filepath.Separator) || strings.Contains(file, "/") {
		return file, isExecutable(file)
	}

	if path == "" {
		path = os.Getenv("PATH")
	}

	names := []string{file}
	if runtime.GOOS == "windows" && filepath.Ext(file) == "" {
		names = []string{file + ".exe", file + ".cmd", file + ".bat", file}
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}

		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if isExecutable(candidate) == nil {
				return candidate, nil
			}
		}
	}

	return "", &os.PathError{Op: "lookpath", Path: file, Err: os.ErrNotExist}
}

func isExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return &os.PathError{Op: "lookpath", Path: path, Err: os.ErrInvalid}
	}

	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return &os.PathError{Op: "lookpath", Path: path, Err: os.ErrPermission}
	}

	return nil
}
