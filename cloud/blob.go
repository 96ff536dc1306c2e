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

package cloud

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
)

// ReadAll reads the given blob from the given bucket.
func ReadAll(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	var b bytes.Buffer
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cloud: reading blob key %s", key)
	}
	defer r.Close()
	if _, err = io.Copy(&b, r); err != nil {
		return nil, errors.Wrapf(err, "cloud: reading blob key %s", key)
	}
	return b.Bytes(), nil
}

// WriteAll writes the given data to the given bucket.
func WriteAll(ctx context.Context, bucket *blob.Bucket, key string, data []byte) error {
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return errors.Wrapf(err, "cloud: creating writer for blob %s", key)
	}
	if _, err = io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return errors.Wrapf(err, "cloud: copying blob %s", key)
	}
	if err = w.Close(); err != nil {
		return errors.Wrapf(err, "cloud: writing blob %s", key)
	}
	return nil
}

// List returns the blob paths of the objects directly inside the blob
// directory dir whose names end in suffix, in lexical order.
func List(ctx context.Context, dir, suffix string) ([]string, error) {
	b, err := Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	prefix := b.Key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := listKeys(ctx, b.Bucket, prefix, "/")
	if err != nil {
		return nil, err
	}
	var o []string
	for _, k := range keys {
		if strings.HasSuffix(k, suffix) {
			o = append(o, Join(dir, strings.TrimPrefix(k, prefix)))
		}
	}
	sort.Strings(o)
	return o, nil
}

// listKeys returns the keys of the objects under prefix, skipping
// directories when delimiter is set.
func listKeys(ctx context.Context, bucket *blob.Bucket, prefix, delimiter string) ([]string, error) {
	iter := bucket.List(&blob.ListOptions{
		Prefix:    prefix,
		Delimiter: delimiter,
	})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cloud: listing %s", prefix)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Keys returns all keys under prefix, recursively.
func Keys(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	return listKeys(ctx, bucket, prefix, "")
}

// DeleteKeys deletes the given keys from the bucket.
func DeleteKeys(ctx context.Context, bucket *blob.Bucket, keys []string) error {
	for _, k := range keys {
		if err := bucket.Delete(ctx, k); err != nil && !IsNotExist(err) {
			return errors.Wrapf(err, "cloud: deleting blob %s", k)
		}
	}
	return nil
}

// Exists reports whether the blob at path exists.
func Exists(ctx context.Context, path string) (bool, error) {
	b, err := Open(ctx, path)
	if err != nil {
		return false, err
	}
	defer b.Close()
	ok, err := b.Exists(ctx, b.Key)
	return ok, errors.Wrapf(err, "cloud: checking %s", path)
}

// Upload copies the local file src to the blob path dst.
func Upload(ctx context.Context, src, dst string) error {
	r, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "cloud: opening file '%s' for upload", src)
	}
	defer r.Close()
	b, err := Open(ctx, dst)
	if err != nil {
		return errors.Wrapf(err, "cloud: opening bucket to upload file '%s'", dst)
	}
	defer b.Close()
	w, err := b.NewWriter(ctx, b.Key, &blob.WriterOptions{})
	if err != nil {
		return errors.Wrapf(err, "cloud: opening writer to upload file '%s'", dst)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "cloud: uploading file '%s' to '%s'", src, dst)
	}
	return errors.Wrapf(w.Close(), "cloud: uploading file '%s' to '%s'", src, dst)
}

// Download copies the blob at src to the local file dst.
func Download(ctx context.Context, src, dst string) error {
	b, err := Open(ctx, src)
	if err != nil {
		return err
	}
	defer b.Close()
	r, err := b.NewReader(ctx, b.Key, nil)
	if err != nil {
		return errors.Wrapf(err, "cloud: downloading %s", src)
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "cloud: creating file for download")
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "cloud: downloading %s", src)
	}
	return w.Close()
}

// File is a random-access view of a local file or blob.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }

// blobFile reads byte ranges of a blob on demand.
type blobFile struct {
	ctx    context.Context
	bucket *Bucket
	size   int64
}

func (f *blobFile) Size() int64 { return f.size }

func (f *blobFile) Close() error { return f.bucket.Close() }

func (f *blobFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > f.size {
		n = f.size - off
	}
	r, err := f.bucket.NewRangeReader(f.ctx, f.bucket.Key, off, n, nil)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	nr, err := io.ReadFull(r, p[:n])
	if err == nil && n < int64(len(p)) {
		err = io.EOF
	}
	return nr, err
}

// OpenFile opens a local path or blob path for random access.
// Blob contents are fetched in ranges as they are read.
func OpenFile(ctx context.Context, path string) (File, error) {
	if !IsBlob(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &localFile{File: f, size: fi.Size()}, nil
	}
	b, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	attrs, err := b.Attributes(ctx, b.Key)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &blobFile{ctx: ctx, bucket: b, size: attrs.Size}, nil
}
