package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned by every operation when no bucket is configured.
var ErrDisabled = errors.New("blobstore: attachment storage is not configured")

// s3API is the minimal S3 interface required by Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Object describes a stored blob.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Store keeps chat attachments in an S3 bucket served from a public base URL.
type Store struct {
	api           s3API
	bucket        string
	publicBaseURL string
	log           zerolog.Logger
}

// New returns a Store. An empty bucket yields a disabled store.
func New(api s3API, bucket, publicBaseURL string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		bucket:        strings.TrimSpace(bucket),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		log:           log.With().Str("component", "blobstore").Logger(),
	}
	if s.bucket == "" {
		s.log.Warn().Msg("ATTACHMENT_BUCKET is not set; attachment uploads are disabled")
		return s, nil
	}
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	if s.publicBaseURL == "" {
		return nil, errors.New("blobstore: public base url must not be empty")
	}
	s.api = api
	return s, nil
}

func (s *Store) Enabled() bool {
	return s.api != nil
}

// Upload stores data under key. The content type is sniffed from the bytes.
func (s *Store) Upload(ctx context.Context, key string, data []byte) (Object, error) {
	if !s.Enabled() {
		return Object{}, ErrDisabled
	}
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "" {
		return Object{}, errors.New("blobstore: key is required")
	}
	contentType := mimetype.Detect(data).String()
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Object{}, fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Str("content_type", contentType).Int("size", len(data)).Msg("attachment stored")
	return Object{Key: key, URL: s.PublicURL(key), ContentType: contentType, Size: int64(len(data))}, nil
}

// PublicURL returns the URL an uploaded key is served from.
func (s *Store) PublicURL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}

// Remove deletes key. Deleting a key that does not exist is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "" {
		return errors.New("blobstore: key is required")
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("attachment removed")
	return nil
}
