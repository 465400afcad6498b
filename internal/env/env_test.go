package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePrecedenceAndExpansion(t *testing.T) {
	e := New(false, []string{"PORT=3050", "HOST=localhost", "bad", "=skip"})
	got := e.Merge([]string{"PORT=4000", "URL=http://${HOST}:${PORT}", "KEEP=${MISSING}"})

	assert.Equal(t, []string{
		"HOST=localhost",
		"KEEP=${MISSING}",
		"PORT=4000",
		"URL=http://localhost:4000",
	}, got)
}

func TestMergeUsesOSEnvironment(t *testing.T) {
	t.Setenv("DEVLAUNCHER_ENV_TEST", "from-os")
	got := New(true, nil).Merge(nil)
	assert.Contains(t, got, "DEVLAUNCHER_ENV_TEST=from-os")

	assert.NotContains(t, New(false, nil).Merge(nil), "DEVLAUNCHER_ENV_TEST=from-os")
}
