// Package s3 persists farm collections as objects in an S3-compatible bucket
// (AWS S3 or MinIO). Each key is one object; its revision travels in object
// metadata and writes use conditional requests. Deleting a key overwrites the
// object with an empty tombstone so the revision keeps counting.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"agriyield/pkg/domain"
)

var _ domain.KeyValueStore = (*Store)(nil)

const (
	revisionMetadataKey = "revision"
	deletedMetadataKey  = "deleted"
	deleteAttempts      = 5
)

// Store maps keys to objects in a single bucket under an optional prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string // prepended to every object key
	Endpoint        string // optional; enables a custom endpoint such as MinIO
	AccessKeyID     string // optional (falls back to the default credentials chain)
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// New creates an S3-backed store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) objectKey(key string) string { return s.prefix + key }

// Get downloads the object for key.
func (s *Store) Get(ctx context.Context, key string) (domain.Record, error) {
	objectKey := s.objectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		if isNotFound(err) {
			return domain.Record{}, domain.ErrKeyNotFound
		}
		return domain.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	if isTombstone(out.Metadata) {
		return domain.Record{}, domain.ErrKeyNotFound
	}
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	return domain.Record{Value: body, Revision: parseRevision(out.Metadata)}, nil
}

// objectState is what HEAD reports about a key. etag is nil when no object
// exists.
type objectState struct {
	etag     *string
	revision domain.Revision
	deleted  bool
}

func (s *Store) head(ctx context.Context, key string) (objectState, error) {
	objectKey := s.objectKey(key)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		if isNotFound(err) {
			return objectState{}, nil
		}
		return objectState{}, fmt.Errorf("head %s: %w", key, err)
	}
	return objectState{etag: head.ETag, revision: parseRevision(head.Metadata), deleted: isTombstone(head.Metadata)}, nil
}

// Put uploads value when the object's revision equals expected. A missing
// object is created with If-None-Match; anything else is replaced with
// If-Match on the ETag observed alongside its revision.
func (s *Store) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	state, err := s.head(ctx, key)
	if err != nil {
		return 0, err
	}
	current := state.revision
	if state.deleted {
		current = 0
	}
	if current != expected {
		return 0, fmt.Errorf("write %s at revision %d: %w", key, expected, domain.ErrRevisionConflict)
	}
	next := state.revision + 1
	if err := s.write(ctx, key, value, state, map[string]string{
		revisionMetadataKey: strconv.FormatUint(uint64(next), 10),
	}); err != nil {
		if isPreconditionFailure(err) {
			return 0, fmt.Errorf("write %s at revision %d: %w", key, expected, domain.ErrRevisionConflict)
		}
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return next, nil
}

// Delete replaces the object for key with a tombstone one revision ahead.
// Absent keys and existing tombstones are left alone.
func (s *Store) Delete(ctx context.Context, key string) error {
	for range deleteAttempts {
		state, err := s.head(ctx, key)
		if err != nil {
			return err
		}
		if state.etag == nil || state.deleted {
			return nil
		}
		err = s.write(ctx, key, nil, state, map[string]string{
			revisionMetadataKey: strconv.FormatUint(uint64(state.revision+1), 10),
			deletedMetadataKey:  "true",
		})
		if err == nil {
			return nil
		}
		if !isPreconditionFailure(err) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return fmt.Errorf("delete %s: %w", key, domain.ErrRevisionConflict)
}

func (s *Store) write(ctx context.Context, key string, value []byte, state objectState, metadata map[string]string) error {
	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objectKey,
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
		Metadata:    metadata,
	}
	if state.etag == nil {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = state.etag
	}
	_, err := s.client.PutObject(ctx, input)
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	switch errorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	}
	return statusCode(err) == http.StatusNotFound
}

// isPreconditionFailure covers both a failed If-Match/If-None-Match and the
// 409 S3 returns when a concurrent conditional write is in flight.
func isPreconditionFailure(err error) bool {
	switch errorCode(err) {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	switch statusCode(err) {
	case http.StatusPreconditionFailed, http.StatusConflict:
		return true
	}
	return false
}

func isTombstone(md map[string]string) bool {
	return md[deletedMetadataKey] == "true"
}

// parseRevision reads the revision metadata. Objects written by other tools
// carry none and count as revision 1.
func parseRevision(md map[string]string) domain.Revision {
	raw, ok := md[revisionMetadataKey]
	if !ok {
		return 1
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 1
	}
	return domain.Revision(v)
}
