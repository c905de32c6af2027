package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	DefaultDirPerms  = 0o750
	DefaultFilePerms = 0o640
	DefaultExecPerms = 0o755
)

// CopyFile copies src to dst with [perm], creating dst's parent directories.
func CopyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirPerms); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	// OpenFile only applies perm on creation
	if err := os.Chmod(dst, perm); err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("couldn't copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// CreateFileAndWrite creates [path] along with its parent directories
// and writes [contents] to it.
func CreateFileAndWrite(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPerms); err != nil {
		return err
	}
	return os.WriteFile(path, contents, DefaultFilePerms)
}

// FileExists reports whether [path] exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
