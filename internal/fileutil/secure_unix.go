//go:build !windows

// Package fileutil creates files and directories that hold message text
// with owner-only access. On Unix the mode bits are the whole story; on
// Windows owner-only modes also get a DACL granting access to the current
// user alone.
package fileutil

import "os"

// SecureMkdirAll creates path and any missing parents with perm.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// SecureChmod changes the mode of path.
func SecureChmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}
