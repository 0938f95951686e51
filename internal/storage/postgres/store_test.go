package postgres

import (
	"context"
	"os"
	"testing"

	"domainwatch/internal/storage"
	"domainwatch/internal/storage/storagetest"
)

// Set DOMAINWATCH_TEST_POSTGRES_URL to a disposable database to run these.
func TestStore(t *testing.T) {
	url := os.Getenv("DOMAINWATCH_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("DOMAINWATCH_TEST_POSTGRES_URL not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Storer {
		ctx := context.Background()
		s, err := New(ctx, url)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := s.db.Exec(ctx, `TRUNCATE endpoints, checks, webhooks, webhook_deliveries, settings RESTART IDENTITY CASCADE`); err != nil {
			s.Close()
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
