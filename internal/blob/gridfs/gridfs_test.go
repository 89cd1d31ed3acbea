package gridfs_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/blob/gridfs"
	"github.com/avstrong/bnb/internal/logger"
)

func TestGridFSRoundTrip(t *testing.T) {
	uri := os.Getenv("BNB_MONGO_URI")
	if uri == "" {
		t.Skip("BNB_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := gridfs.New(ctx, gridfs.Config{
		L:          logger.Nop(),
		URI:        uri,
		Database:   "bnb_test",
		BucketName: "media_test",
		PublicURL:  "http://localhost:8092",
	})
	require.NoError(t, err)

	defer func() { _ = store.Close(context.Background()) }()

	_, err = store.Put(ctx, "rooms/r1/a.jpg", "image/jpeg", []byte("first"))
	require.NoError(t, err)

	url, err := store.Put(ctx, "rooms/r1/a.jpg", "image/jpeg", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8092/media/rooms/r1/a.jpg", url)

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/rooms/r1/a.jpg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "second", string(body))

	require.NoError(t, store.Delete(ctx, "rooms/r1/a.jpg"))
	require.ErrorIs(t, store.Delete(ctx, "rooms/r1/a.jpg"), blob.ErrNotFound)
}
