// Package s3 provides an attribute store on Amazon S3 or any S3-compatible
// object storage.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// maxCASRetries bounds optimistic read-modify-write loops.
const maxCASRetries = 5

// Config contains configuration for the S3 attribute store.
type Config struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "mds/" results in keys like "mds/[0x200000401:0x1:0x0]/object"
	KeyPrefix string

	// Metrics observes individual S3 API calls. Optional.
	Metrics metrics.S3Metrics
}

// S3Store implements store.Store on S3.
//
// Key Design:
//
//	<prefix><fid>/object          object record (JSON)
//	<prefix><fid>/x/<escaped>     one S3 object per attribute value
//
// Attribute names are path-escaped so names containing '/' stay inside
// their object's namespace.
//
// Preconditions:
//   - create-only writes use If-None-Match: *
//   - replace-only writes use If-Match with the ETag read by HeadObject
//   - object record updates are ETag compare-and-swap loops
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   metrics.StoreMetrics
	api       metrics.S3Metrics
	now       func() time.Time
}

// New creates an S3Store and verifies bucket access. The bucket must
// already exist. m may be nil.
func New(ctx context.Context, cfg Config, m metrics.StoreMetrics) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	if m == nil {
		m = metrics.NewNoopStoreMetrics()
	}
	api := cfg.Metrics
	if api == nil {
		api = metrics.NewNoopS3Metrics()
	}

	return &S3Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   m,
		api:       api,
		now:       time.Now,
	}, nil
}

func (s *S3Store) record(op string, start time.Time, err *error) {
	s.metrics.RecordStorageOperation(op, time.Since(start), *err)
}

func (s *S3Store) observe(op string, start time.Time, err error) {
	s.api.ObserveOperation(op, time.Since(start), err)
}

func (s *S3Store) objectKey(f fid.FID) string {
	return s.keyPrefix + f.String() + "/object"
}

func (s *S3Store) attrPrefix(f fid.FID) string {
	return s.keyPrefix + f.String() + "/x/"
}

func (s *S3Store) attrKey(f fid.FID, name string) string {
	return s.attrPrefix(f) + url.PathEscape(name)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict", "412":
			return true
		}
	}
	return false
}

// head returns the size and ETag of key.
func (s *S3Store) head(ctx context.Context, key string) (int64, string, bool, error) {
	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("HeadObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), aws.ToString(out.ETag), true, nil
}

// loadObject reads the object record and its ETag.
func (s *S3Store) loadObject(ctx context.Context, f fid.FID) (*store.Object, string, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(f)),
	})
	s.observe("GetObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, "", store.ErrNoObject(f)
		}
		return nil, "", fmt.Errorf("failed to get object record %s: %w", f, err)
	}
	defer out.Body.Close()

	obj := &store.Object{FID: f}
	if err := json.NewDecoder(out.Body).Decode(obj); err != nil {
		return nil, "", fmt.Errorf("failed to decode object record %s: %w", f, err)
	}
	return obj, aws.ToString(out.ETag), nil
}

func (s *S3Store) ensureObject(ctx context.Context, f fid.FID) error {
	_, _, exists, err := s.head(ctx, s.objectKey(f))
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNoObject(f)
	}
	return nil
}

// updateObject applies fn to the object record with ETag compare-and-swap.
func (s *S3Store) updateObject(ctx context.Context, f fid.FID, fn func(obj *store.Object)) (*store.Object, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		obj, etag, err := s.loadObject(ctx, f)
		if err != nil {
			return nil, err
		}
		fn(obj)

		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to encode object record %s: %w", f, err)
		}
		start := time.Now()
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:  aws.String(s.bucket),
			Key:     aws.String(s.objectKey(f)),
			Body:    bytes.NewReader(data),
			IfMatch: aws.String(etag),
		})
		s.observe("PutObject", start, err)
		if err == nil {
			return obj, nil
		}
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to update object record %s: %w", f, err)
		}
		s.api.RecordCASConflict("object")
	}
	return nil, fmt.Errorf("object record %s changed concurrently %d times", f, maxCASRetries)
}

// CreateObject implements store.ObjectStore.
func (s *S3Store) CreateObject(ctx context.Context, f fid.FID) (err error) {
	defer s.record("create_object", time.Now(), &err)

	data, err := json.Marshal(&store.Object{FID: f, Ctime: s.now()})
	if err != nil {
		return fmt.Errorf("failed to encode object record %s: %w", f, err)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(f)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	s.observe("PutObject", start, err)
	if err != nil {
		if isPreconditionFailed(err) {
			return xattr.NewError(xattr.ErrExists, f.String(), "object already exists")
		}
		return fmt.Errorf("failed to create object record %s: %w", f, err)
	}
	return nil
}

// GetObject implements store.ObjectStore.
func (s *S3Store) GetObject(ctx context.Context, f fid.FID) (*store.Object, error) {
	obj, _, err := s.loadObject(ctx, f)
	return obj, err
}

// SetCtime implements store.ObjectStore.
func (s *S3Store) SetCtime(ctx context.Context, f fid.FID, t time.Time) (err error) {
	defer s.record("set_ctime", time.Now(), &err)

	_, err = s.updateObject(ctx, f, func(obj *store.Object) { obj.Ctime = t })
	return err
}

// BumpVersion implements store.ObjectStore.
func (s *S3Store) BumpVersion(ctx context.Context, f fid.FID) (version uint64, err error) {
	defer s.record("bump_version", time.Now(), &err)

	obj, err := s.updateObject(ctx, f, func(obj *store.Object) { obj.Version++ })
	if err != nil {
		return 0, err
	}
	return obj.Version, nil
}

// ProbeSize implements store.AttributeStore.
func (s *S3Store) ProbeSize(ctx context.Context, f fid.FID, name string) (size int, err error) {
	defer s.record("probe", time.Now(), &err)

	if err := s.ensureObject(ctx, f); err != nil {
		return 0, err
	}
	length, _, exists, err := s.head(ctx, s.attrKey(f, name))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNoAttr(name)
	}
	return int(length), nil
}

// Read implements store.AttributeStore.
func (s *S3Store) Read(ctx context.Context, f fid.FID, name string, buf []byte) (n int, err error) {
	defer s.record("read", time.Now(), &err)

	if err := s.ensureObject(ctx, f); err != nil {
		return 0, err
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.attrKey(f, name)),
	})
	s.observe("GetObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return 0, store.ErrNoAttr(name)
		}
		return 0, fmt.Errorf("failed to get %s on %s: %w", name, f, err)
	}
	defer out.Body.Close()

	if size := aws.ToInt64(out.ContentLength); size > int64(len(buf)) {
		return 0, xattr.NewError(xattr.ErrRange, name, "value of %d bytes does not fit in %d", size, len(buf))
	}

	data, err := io.ReadAll(io.LimitReader(out.Body, int64(len(buf))+1))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s on %s: %w", name, f, err)
	}
	s.api.RecordBytes("read", int64(len(data)))
	return store.CopyValue(name, data, buf)
}

// Write implements store.AttributeStore.
func (s *S3Store) Write(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) (err error) {
	defer s.record("write", time.Now(), &err)

	if err := store.ValidateValue(name, value); err != nil {
		return err
	}
	if err := flags.Validate(); err != nil {
		return err
	}
	if err := s.ensureObject(ctx, f); err != nil {
		return err
	}

	key := s.attrKey(f, name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
	}

	switch {
	case flags&xattr.SetCreate != 0:
		input.IfNoneMatch = aws.String("*")
	case flags&xattr.SetReplace != 0:
		_, etag, exists, err := s.head(ctx, key)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNoAttr(name)
		}
		input.IfMatch = aws.String(etag)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, input)
	s.observe("PutObject", start, err)
	if err != nil {
		if isPreconditionFailed(err) {
			s.api.RecordCASConflict("attribute")
			if flags&xattr.SetCreate != 0 {
				return xattr.NewError(xattr.ErrExists, name, "attribute already exists")
			}
			return store.ErrNoAttr(name)
		}
		return fmt.Errorf("failed to put %s on %s: %w", name, f, err)
	}
	s.api.RecordBytes("write", int64(len(value)))
	return nil
}

// Delete implements store.AttributeStore.
func (s *S3Store) Delete(ctx context.Context, f fid.FID, name string) (err error) {
	defer s.record("delete", time.Now(), &err)

	if err := s.ensureObject(ctx, f); err != nil {
		return err
	}

	key := s.attrKey(f, name)
	_, _, exists, err := s.head(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNoAttr(name)
	}

	start := time.Now()
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("DeleteObject", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete %s on %s: %w", name, f, err)
	}
	return nil
}

// Enumerate implements store.AttributeStore.
func (s *S3Store) Enumerate(ctx context.Context, f fid.FID, buf []byte) (n int, err error) {
	defer s.record("enumerate", time.Now(), &err)

	if err := s.ensureObject(ctx, f); err != nil {
		return 0, err
	}

	prefix := s.attrPrefix(f)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var names []string
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.observe("ListObjectsV2", start, err)
		if err != nil {
			return 0, fmt.Errorf("failed to list attributes of %s: %w", f, err)
		}
		for _, obj := range page.Contents {
			name, err := url.PathUnescape(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
			if err != nil {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return store.CopyBlob(names, buf)
}

// Close implements store.Store. The S3 client holds no resources that
// need releasing.
func (s *S3Store) Close() error {
	return nil
}

var _ store.Store = (*S3Store)(nil)
