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

package zarr

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Metadata file names.
const (
	groupFile = ".zgroup"
	arrayFile = ".zarray"
	attrsFile = ".zattrs"
)

// DimensionsAttr is the attribute xarray uses to name array dimensions.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

// Group is a Zarr group rooted at a prefix of a bucket.
type Group struct {
	b      *blob.Bucket
	prefix string

	mu      sync.Mutex
	written map[string]bool
}

// NewGroup returns a handle to the group at prefix in b.
// Nothing is read or written.
func NewGroup(b *blob.Bucket, prefix string) *Group {
	return &Group{b: b, prefix: strings.Trim(prefix, "/"), written: make(map[string]bool)}
}

func (g *Group) key(parts ...string) string {
	return path.Join(append([]string{g.prefix}, parts...)...)
}

func (g *Group) put(ctx context.Context, key string, data []byte) error {
	w, err := g.b.NewWriter(ctx, key, nil)
	if err != nil {
		return errors.Wrapf(err, "zarr: writing %s", key)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "zarr: writing %s", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "zarr: writing %s", key)
	}
	g.mu.Lock()
	g.written[key] = true
	g.mu.Unlock()
	return nil
}

func (g *Group) get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.b.NewReader(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *Group) putJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "zarr: encoding %s", key)
	}
	return g.put(ctx, key, b)
}

func (g *Group) getJSON(ctx context.Context, key string, v interface{}) error {
	b, err := g.get(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "zarr: reading %s", key)
	}
	return errors.Wrapf(json.Unmarshal(b, v), "zarr: decoding %s", key)
}

// Exists reports whether the group metadata is present.
func (g *Group) Exists(ctx context.Context) (bool, error) {
	ok, err := g.b.Exists(ctx, g.key(groupFile))
	return ok, errors.Wrap(err, "zarr: checking group")
}

// Commit writes the group attributes and the .zgroup marker. It
// should be called after all arrays are complete, so that readers
// never see a partially written group.
func (g *Group) Commit(ctx context.Context, attrs map[string]interface{}) error {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	if err := g.putJSON(ctx, g.key(attrsFile), attrs); err != nil {
		return err
	}
	return g.putJSON(ctx, g.key(groupFile), map[string]int{"zarr_format": Format})
}

// Attrs returns the group attributes.
func (g *Group) Attrs(ctx context.Context) (map[string]interface{}, error) {
	return g.attrs(ctx, g.key(attrsFile))
}

func (g *Group) attrs(ctx context.Context, key string) (map[string]interface{}, error) {
	o := make(map[string]interface{})
	err := g.getJSON(ctx, key, &o)
	if err != nil && gcerrors.Code(errors.Cause(err)) == gcerrors.NotFound {
		return o, nil
	}
	return o, err
}

// Stale returns the keys under the group prefix that were not written
// through g.
func (g *Group) Stale(ctx context.Context) ([]string, error) {
	prefix := g.prefix
	if prefix != "" {
		prefix += "/"
	}
	iter := g.b.List(&blob.ListOptions{Prefix: prefix})
	var o []string
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "zarr: listing group")
		}
		if !obj.IsDir && !g.written[obj.Key] {
			o = append(o, obj.Key)
		}
	}
	return o, nil
}

// CopyTo copies the objects written through g into dst, which must
// live in the same bucket. The .zgroup marker is copied last, so dst
// only becomes visible as a group once everything else is in place.
func (g *Group) CopyTo(ctx context.Context, dst *Group) error {
	g.mu.Lock()
	keys := make([]string, 0, len(g.written))
	for k := range g.written {
		keys = append(keys, k)
	}
	g.mu.Unlock()
	sort.Strings(keys)
	marker := g.key(groupFile)
	committed := false
	for _, k := range keys {
		if k == marker {
			committed = true
			continue
		}
		if err := g.copyKey(ctx, dst, k); err != nil {
			return err
		}
	}
	if !committed {
		return errors.Errorf("zarr: group %s is not committed", g.prefix)
	}
	return g.copyKey(ctx, dst, marker)
}

func (g *Group) copyKey(ctx context.Context, dst *Group, key string) error {
	to := dst.key(strings.TrimPrefix(strings.TrimPrefix(key, g.prefix), "/"))
	if err := g.b.Copy(ctx, to, key, nil); err != nil {
		return errors.Wrapf(err, "zarr: copying %s to %s", key, to)
	}
	dst.mu.Lock()
	dst.written[to] = true
	dst.mu.Unlock()
	return nil
}

// ArrayNames returns the names of the arrays directly inside the group.
func (g *Group) ArrayNames(ctx context.Context) ([]string, error) {
	prefix := g.prefix
	if prefix != "" {
		prefix += "/"
	}
	iter := g.b.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var o []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "zarr: listing group")
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		ok, err := g.b.Exists(ctx, g.key(name, arrayFile))
		if err != nil {
			return nil, errors.Wrap(err, "zarr: listing group")
		}
		if ok {
			o = append(o, name)
		}
	}
	sort.Strings(o)
	return o, nil
}

// Array is a chunked N-dimensional array inside a group.
type Array struct {
	Name  string
	Meta  Metadata
	Attrs map[string]interface{}

	g     *Group
	dt    dtype
	fill  float64
	codec *codec
}

// CreateArray writes the metadata for a new array. Chunk data is
// written separately.
func (g *Group) CreateArray(ctx context.Context, name string, m Metadata, attrs map[string]interface{}) (*Array, error) {
	if m.DType != "<f8" {
		return nil, errors.Errorf("zarr: cannot write dtype %q", m.DType)
	}
	a, err := g.newArray(name, m, attrs)
	if err != nil {
		return nil, err
	}
	if err := g.putJSON(ctx, g.key(name, arrayFile), m); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	if err := g.putJSON(ctx, g.key(name, attrsFile), attrs); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenArray reads the metadata of an existing array.
func (g *Group) OpenArray(ctx context.Context, name string) (*Array, error) {
	var m Metadata
	if err := g.getJSON(ctx, g.key(name, arrayFile), &m); err != nil {
		return nil, err
	}
	attrs, err := g.attrs(ctx, g.key(name, attrsFile))
	if err != nil {
		return nil, err
	}
	return g.newArray(name, m, attrs)
}

func (g *Group) newArray(name string, m Metadata, attrs map[string]interface{}) (*Array, error) {
	if err := m.validate(); err != nil {
		return nil, errors.Wrapf(err, "array %s", name)
	}
	a := &Array{Name: name, Meta: m, Attrs: attrs, g: g}
	var err error
	if a.dt, err = parseDType(m.DType); err != nil {
		return nil, err
	}
	if a.fill, err = m.fill(); err != nil {
		return nil, err
	}
	if a.codec, err = newCodec(m.Compressor); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases codec resources.
func (a *Array) Close() { a.codec.close() }

// Dims returns the dimension names recorded for xarray, or nil.
func (a *Array) Dims() []string {
	v, ok := a.Attrs[DimensionsAttr].([]interface{})
	if !ok {
		return nil
	}
	o := make([]string, len(v))
	for i, d := range v {
		o[i], _ = d.(string)
	}
	return o
}

// ChunkKey returns the object key of the chunk with grid index idx.
func (a *Array) ChunkKey(idx []int) string {
	sep := a.Meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	s := make([]string, len(idx))
	for i, v := range idx {
		s[i] = strconv.Itoa(v)
	}
	if len(s) == 0 {
		s = []string{"0"}
	}
	return a.g.key(a.Name, strings.Join(s, sep))
}

func (a *Array) chunkLen() int {
	n := 1
	for _, c := range a.Meta.Chunks {
		n *= c
	}
	return n
}

// WriteChunk encodes and stores one full chunk, given in C order.
func (a *Array) WriteChunk(ctx context.Context, idx []int, data []float64) error {
	if len(data) != a.chunkLen() {
		return errors.Errorf("zarr: chunk %v of %s has %d values, expected %d",
			idx, a.Name, len(data), a.chunkLen())
	}
	b, err := a.codec.encode(encodeFloat64(data))
	if err != nil {
		return errors.Wrapf(err, "zarr: compressing chunk %v of %s", idx, a.Name)
	}
	return a.g.put(ctx, a.ChunkKey(idx), b)
}

// ReadChunk returns the values of one chunk in C order. Missing
// chunks are filled with the fill value.
func (a *Array) ReadChunk(ctx context.Context, idx []int) ([]float64, error) {
	out := make([]float64, a.chunkLen())
	b, err := a.g.get(ctx, a.ChunkKey(idx))
	if gcerrors.Code(err) == gcerrors.NotFound {
		for i := range out {
			out[i] = a.fill
		}
		return out, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "zarr: reading chunk %v of %s", idx, a.Name)
	}
	if b, err = a.codec.decode(b); err != nil {
		return nil, errors.Wrapf(err, "zarr: decompressing chunk %v of %s", idx, a.Name)
	}
	if err := a.dt.decode(b, out); err != nil {
		return nil, errors.Wrapf(err, "chunk %v of %s", idx, a.Name)
	}
	return out, nil
}

// grid returns the number of chunks along each dimension.
func (a *Array) grid() []int {
	o := make([]int, len(a.Meta.Shape))
	for i, s := range a.Meta.Shape {
		o[i] = (s + a.Meta.Chunks[i] - 1) / a.Meta.Chunks[i]
	}
	return o
}

// next advances the multi-index idx within bounds, returning false
// when iteration is complete.
func next(idx, bounds []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < bounds[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// run is a contiguous stretch of n values shared by a chunk and the
// array, starting at flat offsets c and a respectively.
type run struct{ c, a, n int }

// eachChunk calls f with the grid index of every chunk and the runs
// of values that the chunk shares with the array.
func (a *Array) eachChunk(f func(cidx []int, runs []run) error) error {
	shape, chunks := a.Meta.Shape, a.Meta.Chunks
	if size(shape) == 0 {
		return nil
	}
	if len(shape) == 0 {
		return f(nil, []run{{n: 1}})
	}
	last := len(shape) - 1
	grid := a.grid()
	cidx := make([]int, len(shape))
	local := make([]int, last)
	var runs []run
	for {
		runs = runs[:0]
		for i := range local {
			local[i] = 0
		}
		for row := 0; ; row++ {
			off, inside := 0, true
			for d := 0; d < last; d++ {
				g := cidx[d]*chunks[d] + local[d]
				if g >= shape[d] {
					inside = false
					break
				}
				off = off*shape[d] + g
			}
			if inside {
				g0 := cidx[last] * chunks[last]
				n := chunks[last]
				if shape[last]-g0 < n {
					n = shape[last] - g0
				}
				runs = append(runs, run{c: row * chunks[last], a: off*shape[last] + g0, n: n})
			}
			if !next(local, chunks[:last]) {
				break
			}
		}
		if err := f(cidx, runs); err != nil {
			return err
		}
		if !next(cidx, grid) {
			return nil
		}
	}
}

// Write stores data, given in C order, as chunks.
func (a *Array) Write(ctx context.Context, data []float64) error {
	if len(data) != size(a.Meta.Shape) {
		return errors.Errorf("zarr: %s has %d values, expected %d", a.Name, len(data), size(a.Meta.Shape))
	}
	buf := make([]float64, a.chunkLen())
	return a.eachChunk(func(cidx []int, runs []run) error {
		for i := range buf {
			buf[i] = a.fill
		}
		for _, r := range runs {
			copy(buf[r.c:r.c+r.n], data[r.a:r.a+r.n])
		}
		return a.WriteChunk(ctx, cidx, buf)
	})
}

// Read returns the whole array in C order.
func (a *Array) Read(ctx context.Context) ([]float64, error) {
	out := make([]float64, size(a.Meta.Shape))
	err := a.eachChunk(func(cidx []int, runs []run) error {
		chunk, err := a.ReadChunk(ctx, cidx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			copy(out[r.a:r.a+r.n], chunk[r.c:r.c+r.n])
		}
		return nil
	})
	return out, err
}
