package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"domainwatch/internal/storage"
	"domainwatch/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storer {
		s, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestTimestampsSortLexically(t *testing.T) {
	// Fixed-width text keeps string order equal to time order.
	a := formatTime(parseTime("2024-01-01T00:00:00Z"))
	b := formatTime(parseTime("2024-01-01T00:00:00.5Z"))
	if !(a < b) || len(a) != len(b) {
		t.Errorf("expected %q < %q with equal width", a, b)
	}
}
