package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devlauncher/internal/history/sqlite"
)

func TestNewSinkFromDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{"sqlite prefix", "sqlite://" + filepath.Join(dir, "a.db"), false},
		{"bare path", filepath.Join(dir, "b.db"), false},
		{"memory", ":memory:", false},
		{"empty", "   ", true},
		{"unsupported", "redis://localhost:6379", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSinkFromDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, ok := s.(*sqlite.Sink)
			assert.True(t, ok)
			assert.NoError(t, s.Close())
		})
	}
}
