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
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PreprocessFunc adjusts the layout of one input file before it is
// stacked. It receives an array without data describing the file and
// the file path, and must return an array whose leading axis is the
// stack axis, with length 1, and which has the same number of values.
// Typically it attaches the label derived from the file name.
type PreprocessFunc func(a *LabeledArray, source string) (*LabeledArray, error)

// AttachLabel returns a PreprocessFunc that prepends the axis dim
// labeled by l. files gives the input order used for positional labels.
func AttachLabel(dim string, l Labeler, files []string) PreprocessFunc {
	pos := make(map[string]int, len(files))
	for i, f := range files {
		pos[f] = i
	}
	return func(a *LabeledArray, source string) (*LabeledArray, error) {
		v, err := l.Label(pos[source], source)
		if err != nil {
			return nil, err
		}
		return a.ExpandDims(Axis{Name: dim, Units: l.Units(), Values: []float64{v}})
	}
}

// Source is a stacked array that can be read one chunk at a time.
// Chunk i is the sub-array at index i of the leading axis, which is
// kept with length 1.
type Source interface {
	// Layout describes the whole array. It has no data.
	Layout() *LabeledArray

	// Len returns the number of chunks.
	Len() int

	// Chunk reads chunk i. It may be called concurrently.
	Chunk(ctx context.Context, i int) (*LabeledArray, error)
}

type arraySource struct{ a *LabeledArray }

// ArraySource returns a Source reading from an array in memory.
func ArraySource(a *LabeledArray) Source { return arraySource{a: a} }

func (s arraySource) Layout() *LabeledArray { return s.a.meta() }

func (s arraySource) Len() int {
	if len(s.a.Axes) == 0 {
		return 0
	}
	return s.a.Axes[0].Len()
}

func (s arraySource) Chunk(_ context.Context, i int) (*LabeledArray, error) {
	l := s.a.meta()
	l.Axes[0].Values = l.Axes[0].Values[i : i+1]
	n := size(l.Shape())
	return l.withData(s.a.Data.Elements[i*n : (i+1)*n]), nil
}

// forEachChunk reads every chunk of src, using up to workers
// goroutines, and passes it to f, which must be safe for concurrent
// use when workers > 1.
func forEachChunk(ctx context.Context, src Source, workers int, f func(i int, c *LabeledArray) error) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < src.Len(); i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c, err := src.Chunk(gctx, i)
			if err != nil {
				return err
			}
			return f(i, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SourceChecksum returns the Checksum of the array described by src,
// reading one chunk at a time.
func SourceChecksum(ctx context.Context, src Source) (string, error) {
	h := hashLayout(src.Layout())
	for i := 0; i < src.Len(); i++ {
		c, err := src.Chunk(ctx, i)
		if err != nil {
			return "", err
		}
		h.AddFloats(c.Data.Elements)
	}
	return h.Sum(), nil
}

// LazyOptions configure OpenLazy.
type LazyOptions struct {
	// Dim names the stack axis. The default is "date".
	Dim string

	// Preprocess is applied to the layout of each file. The default
	// attaches dates parsed from the file names.
	Preprocess PreprocessFunc

	// SqueezeBands removes the band axis from single-band inputs
	// before Preprocess is called.
	SqueezeBands bool

	// Log receives progress messages. The default is the standard logger.
	Log logrus.FieldLogger
}

type lazyChunk struct {
	source string
	raw    []int // shape of the file as stored
	layout *LabeledArray
}

// LazyStack is a stack of files whose pixel data is read only when
// chunks are requested. It implements Source.
type LazyStack struct {
	Dim string

	chunks []*lazyChunk
	layout *LabeledArray
	log    logrus.FieldLogger
}

// OpenLazy reads the headers of files and prepares a stack along a
// new leading axis without reading pixel data.
func OpenLazy(ctx context.Context, files []string, o LazyOptions) (*LazyStack, error) {
	if o.Dim == "" {
		o.Dim = "date"
	}
	if o.Preprocess == nil {
		o.Preprocess = AttachLabel(o.Dim, DateParser{}, files)
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if len(files) == 0 {
		return nil, ErrEmptyInput
	}
	s := &LazyStack{Dim: o.Dim, log: o.Log}
	layouts := make([]*LabeledArray, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := ReadRasterLayout(ctx, f)
		if err != nil {
			return nil, err
		}
		c := &lazyChunk{source: f, raw: a.Shape()}
		if o.SqueezeBands {
			if b, ok := a.Axis(BandDim); ok && b.Len() == 1 {
				if a, err = a.Squeeze(BandDim); err != nil {
					return nil, err
				}
			}
		}
		if a, err = o.Preprocess(a, f); err != nil {
			return nil, err
		}
		if a.AxisIndex(o.Dim) != 0 || a.Axes[0].Len() != 1 {
			return nil, errors.Errorf("geostack: preprocessing %s must give a leading %s axis of length 1, have axes %v",
				f, o.Dim, a.Dims())
		}
		if size(a.Shape()) != size(c.raw) {
			return nil, &ShapeMismatchError{Source: baseName(f),
				Want: "preprocessed shape with the same size as the file", Have: describe(a, -1)}
		}
		c.layout = a.meta()
		c.layout.Data = nil
		if i > 0 {
			if err := sameLayout(layouts[0], c.layout, 0); err != nil {
				return nil, err
			}
		}
		layouts[i] = c.layout
		s.chunks = append(s.chunks, c)
	}
	var err error
	if s.layout, err = Concat(o.Dim, layouts...); err != nil {
		return nil, err
	}
	s.layout.Attrs[AttrSources] = joinSources(files)
	o.Log.WithFields(logrus.Fields{"files": len(files), "shape": s.layout.Shape()}).Info("opened lazy stack")
	return s, nil
}

// Len returns the number of files in the stack.
func (s *LazyStack) Len() int { return len(s.chunks) }

// Layout describes the stacked array.
func (s *LazyStack) Layout() *LabeledArray { return s.layout.meta() }

// SortByLabel reorders the stack by ascending label without
// reading any data.
func (s *LazyStack) SortByLabel() {
	perm := sortOrder(s.layout.Axes[0].Values)
	chunks := make([]*lazyChunk, len(perm))
	sources := make([]string, len(perm))
	for j, p := range perm {
		chunks[j] = s.chunks[p]
		sources[j] = chunks[j].source
	}
	s.chunks = chunks
	s.layout = s.layout.permute(0, perm)
	s.layout.Attrs[AttrSources] = joinSources(sources)
}

// Chunk reads the file at position i of the stack.
func (s *LazyStack) Chunk(ctx context.Context, i int) (*LabeledArray, error) {
	c := s.chunks[i]
	a, err := OpenRaster(ctx, c.source)
	if err != nil {
		return nil, err
	}
	if !equalInts(a.Shape(), c.raw) {
		return nil, &ShapeMismatchError{Source: baseName(c.source),
			Want: "shape " + intsString(c.raw), Have: "shape " + intsString(a.Shape())}
	}
	s.log.WithFields(logrus.Fields{"file": c.source, "index": i}).Debug("read chunk")
	return c.layout.withData(a.Data.Elements), nil
}

// Materialize reads all files, using up to workers concurrent reads,
// and returns the stacked array.
func (s *LazyStack) Materialize(ctx context.Context, workers int) (*LabeledArray, error) {
	out := s.layout.meta()
	shape := out.Shape()
	out.Data = sparse.ZerosDense(shape...)
	slab := size(shape[1:])
	err := forEachChunk(ctx, s, workers, func(i int, c *LabeledArray) error {
		copy(out.Data.Elements[i*slab:(i+1)*slab], c.Data.Elements)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if b[i] != v {
			return false
		}
	}
	return true
}

func intsString(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return "(" + strings.Join(s, ", ") + ")"
}
