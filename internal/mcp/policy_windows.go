//go:build windows

package mcp

import "os"

// Windows has no O_NOFOLLOW; creating symlinks there needs elevated
// privileges, so a plain open is accepted.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return f, nil
}

// Ownership on Windows is expressed through ACLs, which the permission
// check does not cover. Skipped.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
