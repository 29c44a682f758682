package mongodb

// Integration tests against a running MongoDB instance:
//
//	TEST_MONGODB_URI=mongodb://localhost:27017 go test ./internal/storage/mongodb
//
// Without TEST_MONGODB_URI the tests skip.

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewStore(ctx, &Config{
		URI:      uri,
		Database: fmt.Sprintf("einvoice_test_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.db.Drop(ctx)
		_ = store.Close(ctx)
	})
	return store
}

func TestGetDocument_MultiChunkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Random bytes stored as PDF stay uncompressed and span several
	// GridFS chunks at the default 255KB chunk size
	data := make([]byte, 800*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	id, err := store.StoreDocument(ctx, "tenant-1", &storage.ArchivedDocument{
		DocumentID:  "inv-1",
		ContentType: "application/pdf",
		Data:        data,
	})
	require.NoError(t, err)

	doc, err := store.GetDocument(ctx, "tenant-1", id)
	require.NoError(t, err)
	require.Equal(t, data, doc.Data)
}

func TestGetDocument_TenantScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.StoreDocument(ctx, "tenant-1", &storage.ArchivedDocument{
		DocumentID:  "inv-1",
		ContentType: "application/xml",
		Data:        []byte("<Invoice/>"),
	})
	require.NoError(t, err)

	_, err = store.GetDocument(ctx, "tenant-2", id)
	require.ErrorIs(t, err, storage.ErrNotFound)

	doc, err := store.GetDocument(ctx, "tenant-1", id)
	require.NoError(t, err)
	require.Equal(t, []byte("<Invoice/>"), doc.Data)
}
