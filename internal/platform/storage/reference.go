// Package storage verifies that file references recorded by the fulfillment core (reskin
// completion photos, line item attachments) point at existing Cloud Storage objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
)

const (
	gsScheme          = "gs://"
	maxParallelChecks = 8
)

var (
	// ErrInvalidReference is returned for references that cannot name an object.
	ErrInvalidReference = errors.New("storage: invalid reference")
	// ErrObjectNotFound is returned when a referenced object does not exist.
	ErrObjectNotFound = errors.New("storage: referenced object not found")
)

// Reference names one object.
type Reference struct {
	Bucket string
	Object string
}

func (r Reference) String() string {
	return gsScheme + r.Bucket + "/" + r.Object
}

// ParseReference accepts "gs://bucket/object" or a bare object path resolved against
// defaultBucket. Object paths may not contain empty, "." or ".." segments.
func ParseReference(raw, defaultBucket string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	ref := Reference{Bucket: strings.TrimSpace(defaultBucket), Object: raw}
	if rest, ok := strings.CutPrefix(raw, gsScheme); ok {
		bucket, object, found := strings.Cut(rest, "/")
		if !found {
			return Reference{}, fmt.Errorf("%w: %q has no object path", ErrInvalidReference, raw)
		}
		ref = Reference{Bucket: bucket, Object: object}
	}
	if ref.Bucket == "" {
		return Reference{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidReference, raw)
	}
	if ref.Object == "" || strings.Contains(ref.Object, "\\") {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	for _, segment := range strings.Split(ref.Object, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return Reference{}, fmt.Errorf("%w: %q contains an invalid path segment", ErrInvalidReference, raw)
		}
	}
	return ref, nil
}

// attrsFunc returns the attributes of one object.
type attrsFunc func(ctx context.Context, ref Reference) (*gcs.ObjectAttrs, error)

// ReferenceChecker checks references against Cloud Storage object metadata.
type ReferenceChecker struct {
	attrs          attrsFunc
	defaultBucket  string
	allowedBuckets map[string]struct{}
}

// NewReferenceChecker builds a checker reading object attributes through client. References
// outside defaultBucket and allowedBuckets are rejected.
func NewReferenceChecker(client *gcs.Client, defaultBucket string, allowedBuckets ...string) (*ReferenceChecker, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newReferenceChecker(func(ctx context.Context, ref Reference) (*gcs.ObjectAttrs, error) {
		return client.Bucket(ref.Bucket).Object(ref.Object).Attrs(ctx)
	}, defaultBucket, allowedBuckets...)
}

func newReferenceChecker(attrs attrsFunc, defaultBucket string, allowedBuckets ...string) (*ReferenceChecker, error) {
	defaultBucket = strings.TrimSpace(defaultBucket)
	if defaultBucket == "" {
		return nil, errors.New("storage: default bucket is required")
	}
	allowed := map[string]struct{}{defaultBucket: {}}
	for _, bucket := range allowedBuckets {
		if bucket = strings.TrimSpace(bucket); bucket != "" {
			allowed[bucket] = struct{}{}
		}
	}
	return &ReferenceChecker{attrs: attrs, defaultBucket: defaultBucket, allowedBuckets: allowed}, nil
}

// VerifyReferences fails on the first reference that is malformed, outside the allowed
// buckets, missing, or still being written (zero-size object).
func (c *ReferenceChecker) VerifyReferences(ctx context.Context, refs []string) error {
	parsed := make([]Reference, 0, len(refs))
	seen := make(map[Reference]struct{}, len(refs))
	for _, raw := range refs {
		ref, err := ParseReference(raw, c.defaultBucket)
		if err != nil {
			return err
		}
		if _, ok := c.allowedBuckets[ref.Bucket]; !ok {
			return fmt.Errorf("%w: bucket %s is not allowed", ErrInvalidReference, ref.Bucket)
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		parsed = append(parsed, ref)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for _, ref := range parsed {
		g.Go(func() error {
			attrs, err := c.attrs(gctx, ref)
			switch {
			case errors.Is(err, gcs.ErrObjectNotExist), errors.Is(err, gcs.ErrBucketNotExist):
				return fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
			case err != nil:
				return fmt.Errorf("storage: stat %s: %w", ref, err)
			case attrs == nil || attrs.Size == 0:
				return fmt.Errorf("%w: %s is empty", ErrObjectNotFound, ref)
			}
			return nil
		})
	}
	return g.Wait()
}
