/*
Copyright © 2026 the geostack authors.
This file is part of geostack.

geostack is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

geostack is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with geostack.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cloud provides access to local and remote blob storage.
package cloud

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // register gs://
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // register s3://
	"gocloud.dev/gcerrors"
)

var (
	memMu      sync.Mutex
	memBuckets = make(map[string]*blob.Bucket)
)

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket.
// Any path after the bucket name is ignored.
// The currently accepted storage providers are "file" for the local filesystem,
// "mem" for in-process storage (e.g., for testing), "gs" for Google Cloud
// Storage, and "s3" for AWS S3. For "file", name is a directory, which is
// created if it does not exist. Credentials for "gs" and "s3" are taken from
// the environment.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, errors.Wrap(err, "cloud.OpenBucket")
	}
	switch u.Scheme {
	case "file":
		return fileblob.OpenBucket(u.Hostname(), &fileblob.Options{
			CreateDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
	case "mem":
		return memBucket(u.Hostname()), nil
	case "gs", "s3":
		q := ""
		if u.RawQuery != "" {
			q = "?" + u.RawQuery
		}
		b, err := blob.OpenBucket(ctx, u.Scheme+"://"+u.Host+q)
		if err != nil {
			return nil, errors.Wrapf(err, "cloud.OpenBucket %s", bucketName)
		}
		return b, nil
	default:
		return nil, errors.Errorf("cloud.OpenBucket: invalid provider %s", u.Scheme)
	}
}

// DirBucket returns a bucket rooted at the local directory dir.
// Sidecar metadata files are not written.
func DirBucket(dir string) (*blob.Bucket, error) {
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	return b, errors.Wrapf(err, "cloud: opening directory %s", dir)
}

// memBucket returns the in-process bucket with the given name,
// creating it if necessary. Buckets returned by memBucket must
// not be closed by callers other than ResetMem.
func memBucket(name string) *blob.Bucket {
	memMu.Lock()
	defer memMu.Unlock()
	b, ok := memBuckets[name]
	if !ok {
		b = memblob.OpenBucket(nil)
		memBuckets[name] = b
	}
	return b
}

// ResetMem discards all in-process buckets.
func ResetMem() {
	memMu.Lock()
	defer memMu.Unlock()
	for k, b := range memBuckets {
		b.Close()
		delete(memBuckets, k)
	}
}

// IsBlob returns whether the given path represents a blob
// (i.e., if it starts with 'gs://', 's3://', 'file://' or 'mem://').
func IsBlob(path string) bool {
	for _, p := range []string{"gs://", "s3://", "file://", "mem://"} {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Split splits a blob path into its bucket URL and object key.
func Split(path string) (bucketURL, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", errors.Wrapf(err, "cloud: parsing blob path %s", path)
	}
	bucketURL = u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		bucketURL += "?" + u.RawQuery
	}
	return bucketURL, strings.TrimPrefix(u.Path, "/"), nil
}

// Bucket is an open bucket together with the key that a path refers to.
type Bucket struct {
	*blob.Bucket
	Key    string
	shared bool
}

// Close closes the bucket unless it is shared within the process.
func (b *Bucket) Close() error {
	if b.shared {
		return nil
	}
	return b.Bucket.Close()
}

// Open opens the bucket holding the blob path.
func Open(ctx context.Context, path string) (*Bucket, error) {
	bucketURL, key, err := Split(path)
	if err != nil {
		return nil, err
	}
	b, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &Bucket{Bucket: b, Key: key, shared: strings.HasPrefix(path, "mem://")}, nil
}

// IsNotExist reports whether err indicates a missing file or blob.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

// Join returns the blob path of the key name inside the blob path dir.
func Join(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(filepath.ToSlash(name), "/")
}
