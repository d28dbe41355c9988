package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	putInput *s3.PutObjectInput
	putBody  []byte
	putErr   error
	delInput *s3.DeleteObjectInput
	delErr   error
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.delInput = in
	return &s3.DeleteObjectOutput{}, f.delErr
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = in
	f.putBody, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.putErr
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestUpload_SniffsContentType(t *testing.T) {
	api := &fakeS3{}
	store, err := New(api, "media", "https://cdn.example.com/", zerolog.Nop())
	require.NoError(t, err)

	obj, err := store.Upload(context.Background(), "/chat/c1/../c1/photo 1.png", pngHeader)
	require.NoError(t, err)
	require.Equal(t, "chat/c1/photo 1.png", obj.Key)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, "https://cdn.example.com/chat/c1/photo%201.png", obj.URL)
	require.Equal(t, int64(len(pngHeader)), obj.Size)
	require.Equal(t, "media", *api.putInput.Bucket)
	require.Equal(t, "image/png", *api.putInput.ContentType)
	require.Equal(t, pngHeader, api.putBody)
}

func TestUpload_PutError(t *testing.T) {
	store, err := New(&fakeS3{putErr: errors.New("access denied")}, "media", "https://cdn", zerolog.Nop())
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), "k", []byte("hello"))
	require.ErrorContains(t, err, "access denied")
}

func TestRemove(t *testing.T) {
	api := &fakeS3{}
	store, err := New(api, "media", "https://cdn", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Remove(context.Background(), "/chat/c1/x/../a.pdf"))
	require.Equal(t, "chat/c1/a.pdf", *api.delInput.Key)
	require.Equal(t, "media", *api.delInput.Bucket)

	api.delErr = errors.New("access denied")
	require.ErrorContains(t, store.Remove(context.Background(), "chat/c1/a.pdf"), "access denied")
}

func TestDisabledStore(t *testing.T) {
	store, err := New(nil, "", "", zerolog.Nop())
	require.NoError(t, err)
	require.False(t, store.Enabled())
	_, err = store.Upload(context.Background(), "k", []byte("x"))
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, store.Remove(context.Background(), "k"), ErrDisabled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "media", "https://cdn", zerolog.Nop())
	require.Error(t, err)
	_, err = New(&fakeS3{}, "media", "", zerolog.Nop())
	require.Error(t, err)
}
