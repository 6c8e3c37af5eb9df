package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/example.com/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/example.com/abc.html", uri)

	payload[0] = 'C'
	stored, ok := store.Get("pages/example.com/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"pages/example.com/abc.html"}, store.Paths())

	_, ok = store.Get("missing")
	require.False(t, ok)
}
