//go:build !windows

package service

// shellArgv wraps a script for the platform shell.
func shellArgv(script string) []string {
	return []string{"/bin/sh", "-c", script}
}
