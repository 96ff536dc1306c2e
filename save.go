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

package geostack

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack/cloud"
	"github.com/spatialmodel/geostack/zarr"
	"gocloud.dev/blob"
)

// Format is an output storage format.
type Format int

// Supported formats. FormatAuto chooses by file extension.
const (
	FormatAuto Format = iota
	FormatNetCDF
	FormatZarr
)

func (f Format) String() string {
	switch f {
	case FormatNetCDF:
		return "netcdf"
	case FormatZarr:
		return "zarr"
	default:
		return "auto"
	}
}

// ParseFormat parses a format name as returned by Format.String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "netcdf", "nc", "netcdf3":
		return FormatNetCDF, nil
	case "zarr":
		return FormatZarr, nil
	}
	return FormatAuto, errors.Wrapf(ErrUnknownFormat, "format %q", s)
}

// FormatOf returns the format implied by the extension of path:
// .nc, .ncf or .cdf for NetCDF and .zarr for Zarr.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimRight(path, "/"))) {
	case ".nc", ".ncf", ".cdf":
		return FormatNetCDF, nil
	case ".zarr":
		return FormatZarr, nil
	}
	return FormatAuto, errors.Wrapf(ErrUnknownFormat, "path %s", path)
}

func resolveFormat(f Format, path string) (Format, error) {
	if f != FormatAuto {
		return f, nil
	}
	return FormatOf(path)
}

// SaveOptions configures Save.
type SaveOptions struct {
	// Format is the output format. If it is FormatAuto, it is chosen
	// from the destination extension.
	Format Format

	// Overwrite allows an existing destination to be replaced.
	// Otherwise Save fails with ErrWriteConflict.
	Overwrite bool

	// Workers is the number of chunks read and encoded concurrently.
	// Values below 1 mean 1.
	Workers int

	// Compressor is the Zarr chunk codec: "zstd" (the default),
	// "gzip", "zlib" or "none". It is ignored for NetCDF.
	Compressor string

	Log logrus.FieldLogger
}

func (o *SaveOptions) defaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// ParseCompressor returns the Zarr codec with the given name, or nil
// for uncompressed chunks.
func ParseCompressor(name string) (*zarr.Compressor, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return &zarr.Compressor{ID: "zstd", Level: 3}, nil
	case "gzip":
		return &zarr.Compressor{ID: "gzip", Level: 5}, nil
	case "zlib":
		return &zarr.Compressor{ID: "zlib", Level: 5}, nil
	case "none":
		return nil, nil
	}
	return nil, errors.Errorf("geostack: unknown compressor %q", name)
}

// Save writes src to dest, which may be a local path or a blob path
// such as gs://bucket/out.zarr. The output appears complete or not at
// all: local outputs are written beside dest and renamed into place,
// and a Zarr group is only marked present once every chunk is stored.
// Chunks are streamed, so a lazy stack is never held in memory whole.
func Save(ctx context.Context, src Source, dest string, o SaveOptions) error {
	o.defaults()
	f, err := resolveFormat(o.Format, dest)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return ErrEmptyInput
	}
	c, err := ParseCompressor(o.Compressor)
	if err != nil {
		return err
	}
	log := o.Log.WithFields(logrus.Fields{"destination": dest, "format": f.String()})
	log.WithField("chunks", src.Len()).Info("saving stack")
	if cloud.IsBlob(dest) {
		err = saveBlob(ctx, src, dest, f, c, o)
	} else {
		err = saveLocal(ctx, src, dest, f, c, o)
	}
	if err != nil {
		return err
	}
	log.Info("finished saving stack")
	return nil
}

func saveLocal(ctx context.Context, src Source, dest string, f Format, c *zarr.Compressor, o SaveOptions) error {
	info, err := os.Stat(dest)
	exists := err == nil
	if exists && !o.Overwrite {
		return errors.Wrapf(ErrWriteConflict, "%s", dest)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "geostack: creating output directory")
	}
	pattern := "." + filepath.Base(dest) + ".*"
	var tmp string
	switch f {
	case FormatNetCDF:
		w, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return errors.Wrap(err, "geostack: creating temporary output")
		}
		tmp = w.Name()
		err = writeNetCDF(ctx, w, src, o.Workers)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmp)
			return err
		}
	case FormatZarr:
		if tmp, err = os.MkdirTemp(dir, pattern); err != nil {
			return errors.Wrap(err, "geostack: creating temporary output")
		}
		b, err := cloud.DirBucket(tmp)
		if err != nil {
			os.RemoveAll(tmp)
			return err
		}
		err = writeZarr(ctx, zarr.NewGroup(b, ""), src, o.Workers, c)
		if cerr := b.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.RemoveAll(tmp)
			return err
		}
	default:
		return errors.Wrapf(ErrUnknownFormat, "format %d", f)
	}
	if !exists {
		return rename(tmp, dest)
	}
	if !info.IsDir() && f == FormatNetCDF {
		// Replacing a file is atomic.
		return rename(tmp, dest)
	}
	old := tmp + ".old"
	if err := os.Rename(dest, old); err != nil {
		os.RemoveAll(tmp)
		return errors.Wrapf(err, "geostack: moving aside %s", dest)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Rename(old, dest)
		os.RemoveAll(tmp)
		return errors.Wrapf(err, "geostack: replacing %s", dest)
	}
	return errors.Wrap(os.RemoveAll(old), "geostack: removing replaced output")
}

func rename(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		return errors.Wrapf(err, "geostack: moving output to %s", dest)
	}
	return nil
}

func saveBlob(ctx context.Context, src Source, dest string, f Format, c *zarr.Compressor, o SaveOptions) error {
	exists, err := Exists(ctx, dest)
	if err != nil {
		return err
	}
	if exists && !o.Overwrite {
		return errors.Wrapf(ErrWriteConflict, "%s", dest)
	}
	switch f {
	case FormatNetCDF:
		w, err := os.CreateTemp("", "geostack-*.nc")
		if err != nil {
			return errors.Wrap(err, "geostack: creating temporary output")
		}
		defer os.Remove(w.Name())
		err = writeNetCDF(ctx, w, src, o.Workers)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		return cloud.Upload(ctx, w.Name(), dest)
	case FormatZarr:
		b, err := cloud.Open(ctx, dest)
		if err != nil {
			return err
		}
		defer b.Close()
		key := strings.TrimRight(b.Key, "/")
		staging := key + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		defer removePrefix(context.WithoutCancel(ctx), b.Bucket, staging+"/")

		sg := zarr.NewGroup(b.Bucket, staging)
		if err := writeZarr(ctx, sg, src, o.Workers, c); err != nil {
			return err
		}
		g := zarr.NewGroup(b.Bucket, key)
		if err := sg.CopyTo(ctx, g); err != nil {
			if !exists {
				removePrefix(context.WithoutCancel(ctx), b.Bucket, key+"/")
			}
			return err
		}
		stale, err := g.Stale(ctx)
		if err != nil {
			return err
		}
		return cloud.DeleteKeys(ctx, b.Bucket, stale)
	}
	return errors.Wrapf(ErrUnknownFormat, "format %d", f)
}

func removePrefix(ctx context.Context, b *blob.Bucket, prefix string) {
	if keys, err := cloud.Keys(ctx, b, prefix); err == nil {
		cloud.DeleteKeys(ctx, b, keys)
	}
}

// Exists reports whether something is stored at path. For a Zarr
// blob path, any object under the path counts.
func Exists(ctx context.Context, path string) (bool, error) {
	if !cloud.IsBlob(path) {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		return err == nil, err
	}
	if f, _ := FormatOf(path); f == FormatZarr {
		b, err := cloud.Open(ctx, path)
		if err != nil {
			return false, err
		}
		defer b.Close()
		keys, err := cloud.Keys(ctx, b.Bucket, strings.TrimRight(b.Key, "/")+"/")
		return len(keys) > 0, err
	}
	return cloud.Exists(ctx, path)
}

// Load reads a stack saved by Save from path. The format is chosen
// by extension. If variable is empty, the single data variable in the
// file is read.
func Load(ctx context.Context, path, variable string) (*LabeledArray, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if !cloud.IsBlob(path) {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
			}
			return nil, err
		}
		if f == FormatNetCDF {
			r, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return readNetCDF(r, variable)
		}
		b, err := cloud.DirBucket(path)
		if err != nil {
			return nil, err
		}
		defer b.Close()
		return readZarr(ctx, zarr.NewGroup(b, ""), variable)
	}
	if f == FormatNetCDF {
		return loadBlobNetCDF(ctx, path, variable)
	}
	b, err := cloud.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return readZarr(ctx, zarr.NewGroup(b.Bucket, strings.TrimRight(b.Key, "/")), variable)
}

// loadBlobNetCDF downloads a NetCDF blob to a temporary file and reads it.
func loadBlobNetCDF(ctx context.Context, path, variable string) (*LabeledArray, error) {
	tmp, err := os.CreateTemp("", "geostack-*.nc")
	if err != nil {
		return nil, errors.Wrap(err, "geostack: creating temporary file")
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := cloud.Download(ctx, path, tmp.Name()); err != nil {
		if cloud.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
		}
		return nil, err
	}
	r, err := os.Open(tmp.Name())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readNetCDF(r, variable)
}
