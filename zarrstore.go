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
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"github.com/spatialmodel/geostack/zarr"
)

// writeZarr writes src to the Zarr group g, with one chunk per index
// of the leading axis. Chunks are read and written by up to workers
// goroutines. The group marker is written last.
func writeZarr(ctx context.Context, g *zarr.Group, src Source, workers int, c *zarr.Compressor) error {
	l := src.Layout()
	name := l.Name
	if name == "" {
		name = DefaultName
	}
	if l.AxisIndex(name) >= 0 {
		return errors.Errorf("geostack: variable name %s clashes with an axis", name)
	}
	for _, ax := range l.Axes {
		attrs := map[string]interface{}{zarr.DimensionsAttr: []string{ax.Name}}
		if ax.Units != "" {
			attrs["units"] = ax.Units
		}
		if ax.IsTime() {
			attrs["calendar"] = "proleptic_gregorian"
		}
		n := ax.Len()
		chunk := n
		if chunk == 0 {
			chunk = 1
		}
		a, err := g.CreateArray(ctx, ax.Name, zarr.NewMetadata([]int{n}, []int{chunk}, c), attrs)
		if err != nil {
			return err
		}
		err = a.Write(ctx, ax.Values)
		a.Close()
		if err != nil {
			return errors.Wrapf(err, "geostack: writing axis %s", ax.Name)
		}
	}

	shape := l.Shape()
	chunks := make([]int, len(shape))
	for i, s := range shape {
		chunks[i] = s
		if i == 0 || s == 0 {
			chunks[i] = 1
		}
	}
	a, err := g.CreateArray(ctx, name, zarr.NewMetadata(shape, chunks, c), map[string]interface{}{
		zarr.DimensionsAttr: l.Dims(),
		"description":       l.Description,
		"units":             l.Units,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	err = forEachChunk(ctx, src, workers, func(i int, chunk *LabeledArray) error {
		idx := make([]int, len(shape))
		idx[0] = i
		return a.WriteChunk(ctx, idx, chunk.Data.Elements)
	})
	if err != nil {
		return err
	}
	attrs := make(map[string]interface{}, len(l.Attrs))
	for k, v := range l.Attrs {
		attrs[k] = v
	}
	return g.Commit(ctx, attrs)
}

func attrString(attrs map[string]interface{}, k string) string {
	s, _ := attrs[k].(string)
	return s
}

// readZarr reads the named array from a Zarr group, with its
// coordinate arrays as axes. If variable is empty, the group must
// contain exactly one array that is not a coordinate array.
func readZarr(ctx context.Context, g *zarr.Group, variable string) (*LabeledArray, error) {
	ok, err := g.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrFileNotFound, "no zarr group")
	}
	names, err := g.ArrayNames(ctx)
	if err != nil {
		return nil, err
	}
	arrays := make(map[string]*zarr.Array)
	var data []string
	for _, n := range names {
		a, err := g.OpenArray(ctx, n)
		if err != nil {
			return nil, err
		}
		defer a.Close()
		arrays[n] = a
		if d := a.Dims(); len(d) != 1 || d[0] != n {
			data = append(data, n)
		}
	}
	if variable == "" {
		if len(data) != 1 {
			return nil, errors.Errorf("geostack: zarr group has data arrays %v; choose one", data)
		}
		variable = data[0]
	}
	v, ok := arrays[variable]
	if !ok {
		return nil, errors.Errorf("geostack: zarr group has no array %s", variable)
	}
	out := &LabeledArray{
		Name:        variable,
		Description: attrString(v.Attrs, "description"),
		Units:       attrString(v.Attrs, "units"),
		Attrs:       make(map[string]string),
	}
	dims := v.Dims()
	shape := append([]int(nil), v.Meta.Shape...)
	for i, n := range shape {
		ax := Axis{Name: fmt.Sprintf("dim_%d", i)}
		if i < len(dims) {
			ax.Name = dims[i]
		}
		if c, ok := arrays[ax.Name]; ok && ax.Name != variable && len(c.Meta.Shape) == 1 && c.Meta.Shape[0] == n {
			if ax.Values, err = c.Read(ctx); err != nil {
				return nil, errors.Wrapf(err, "geostack: reading axis %s", ax.Name)
			}
			ax.Units = attrString(c.Attrs, "units")
		} else {
			ax.Values = make([]float64, n)
			for j := range ax.Values {
				ax.Values[j] = float64(j)
			}
		}
		out.Axes = append(out.Axes, ax)
	}
	attrs, err := g.Attrs(ctx)
	if err != nil {
		return nil, err
	}
	for k, val := range attrs {
		if s, ok := val.(string); ok {
			out.Attrs[k] = s
		}
	}
	values, err := v.Read(ctx)
	if err != nil {
		return nil, err
	}
	out.Data = sparse.ZerosDense(shape...)
	out.Data.Elements = values
	return out, out.Validate()
}
