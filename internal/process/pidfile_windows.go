//go:build windows

package process

import "os"

// renameio has no Windows implementation.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
