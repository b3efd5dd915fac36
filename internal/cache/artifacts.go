package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// moveFile renames src to dst, copying when a rename is not possible
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to move %s: %w", filepath.Base(src), err)
	}

	return os.Remove(src)
}

// copyFile copies a file from src to dst through a temporary file, so dst
// is never observed half written
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	// Create parent directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}

	defer os.Remove(dstFile.Name())

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	if err := dstFile.Close(); err != nil {
		return err
	}

	// Preserve file permissions
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.Chmod(dstFile.Name(), srcInfo.Mode()); err != nil {
		return err
	}

	return os.Rename(dstFile.Name(), dst)
}

// stagedOutputs returns the archive and header the compiler left in stage
func stagedOutputs(stage, name string) (archive, header string, err error) {
	archive = filepath.Join(stage, ArchiveName(name))
	header = filepath.Join(stage, compilerHeaderName(name))

	for _, path := range []string{archive, header} {
		if _, err := os.Stat(path); err != nil {
			return "", "", fmt.Errorf("compiler did not produce %s: %w", filepath.Base(path), err)
		}
	}

	return archive, header, nil
}

// fileSize returns the size of path, or 0 when it cannot be read
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}
