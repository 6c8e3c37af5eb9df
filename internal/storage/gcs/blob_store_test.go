package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var gotBucket, gotObject, gotType string
	writer := &fakeWriter{}
	store, err := newBlobStore(Config{Bucket: "artifacts"}, func(_ context.Context, bucket, object, contentType string) objectWriter {
		gotBucket, gotObject, gotType = bucket, object, contentType
		return writer
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/pages/example.com/abc.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://artifacts/pages/example.com/abc.html", uri)
	require.Equal(t, "artifacts", gotBucket)
	require.Equal(t, "pages/example.com/abc.html", gotObject)
	require.Equal(t, "text/html", gotType)
	require.Equal(t, "<html/>", writer.String())
	require.True(t, writer.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	_, err := newBlobStore(Config{}, nil)
	require.Error(t, err)

	_, err = New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	writer := &fakeWriter{}
	store, err := newBlobStore(Config{Bucket: "b"}, func(context.Context, string, string, string) objectWriter { return writer })
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "a", "", iotest.ErrReader(errors.New("read failed")))
	require.ErrorContains(t, err, "copy object")
	require.True(t, writer.closed)

	writer.closeErr = errors.New("precondition failed")
	_, err = store.PutObject(context.Background(), "a", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer")
}
