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
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
)

// conventions is written to every NetCDF file and skipped when reading
// attributes back.
const conventions = "CF-1.8"

// writeNetCDF writes src to the NetCDF classic file w. Chunks are read
// with up to workers goroutines and written one at a time.
func writeNetCDF(ctx context.Context, w *os.File, src Source, workers int) error {
	l := src.Layout()
	name := l.Name
	if name == "" {
		name = DefaultName
	}
	if l.AxisIndex(name) >= 0 {
		return errors.Errorf("geostack: variable name %s clashes with an axis", name)
	}
	for _, ax := range l.Axes {
		if ax.Len() == 0 {
			return errors.Wrapf(ErrEmptyInput, "axis %s has no labels", ax.Name)
		}
	}
	h := cdf.NewHeader(l.Dims(), l.Shape())
	h.AddAttribute("", "Conventions", conventions)

	// Sort the names so they write in the same order every time.
	keys := make([]string, 0, len(l.Attrs))
	for k := range l.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "Conventions" {
			continue
		}
		h.AddAttribute("", k, l.Attrs[k])
	}
	for _, ax := range l.Axes {
		h.AddVariable(ax.Name, []string{ax.Name}, []float64{0})
		if ax.Units != "" {
			h.AddAttribute(ax.Name, "units", ax.Units)
		}
		if ax.IsTime() {
			h.AddAttribute(ax.Name, "calendar", "proleptic_gregorian")
		}
	}
	h.AddVariable(name, l.Dims(), []float64{0})
	h.AddAttribute(name, "description", l.Description)
	h.AddAttribute(name, "units", l.Units)
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return errors.Wrap(err, "geostack: writing netcdf header")
	}
	for _, ax := range l.Axes {
		if err := writeNCF(f, ax.Name, nil, ax.Values); err != nil {
			return errors.Wrapf(err, "geostack: writing axis %s to netcdf file", ax.Name)
		}
	}
	var mu sync.Mutex
	err = forEachChunk(ctx, src, workers, func(i int, c *LabeledArray) error {
		begin := make([]int, len(l.Axes))
		begin[0] = i
		mu.Lock()
		defer mu.Unlock()
		if err := writeNCF(f, name, begin, c.Data.Elements); err != nil {
			return errors.Wrapf(err, "geostack: writing chunk %d to netcdf file", i)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return cdf.UpdateNumRecs(w)
}

// writeNCF writes values to variable v starting at begin, which
// defaults to the origin.
func writeNCF(f *cdf.File, v string, begin []int, values []float64) error {
	w := f.Writer(v, begin, nil)
	n, err := w.Write(values)
	// The writer reports io.EOF on reaching the end of the variable.
	if err == io.EOF && n == len(values) {
		err = nil
	}
	return err
}

// readNCF reads n values of variable v as float64.
func readNCF(f *cdf.File, v string, n int) ([]float64, error) {
	r := f.Reader(v, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, err
	}
	o := make([]float64, n)
	switch t := buf.(type) {
	case []float64:
		copy(o, t)
	case []float32:
		for i, x := range t {
			o[i] = float64(x)
		}
	case []int32:
		for i, x := range t {
			o[i] = float64(x)
		}
	case []int16:
		for i, x := range t {
			o[i] = float64(x)
		}
	case []uint8:
		for i, x := range t {
			o[i] = float64(x)
		}
	default:
		return nil, errors.Errorf("unsupported netcdf type %T", buf)
	}
	return o, nil
}

func stringAttr(h *cdf.Header, v, a string) string {
	s, _ := h.GetAttribute(v, a).(string)
	return s
}

// readNetCDF reads the named variable from a NetCDF file, with its
// coordinate variables as axes. If variable is empty, the file must
// contain exactly one variable that is not a coordinate variable.
func readNetCDF(rw cdf.ReaderWriterAt, variable string) (*LabeledArray, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, errors.Wrap(err, "geostack: opening netcdf file")
	}
	h := f.Header
	isCoord := make(map[string]bool)
	for _, d := range h.Dimensions("") {
		if dd := h.Dimensions(d); len(dd) == 1 && dd[0] == d {
			isCoord[d] = true
		}
	}
	if variable == "" {
		var names []string
		for _, v := range h.Variables() {
			if !isCoord[v] {
				names = append(names, v)
			}
		}
		if len(names) != 1 {
			return nil, errors.Errorf("geostack: netcdf file has data variables %v; choose one", names)
		}
		variable = names[0]
	} else if h.Dimensions(variable) == nil {
		return nil, errors.Errorf("geostack: netcdf file has no variable %s", variable)
	}

	a := &LabeledArray{
		Name:        variable,
		Description: stringAttr(h, variable, "description"),
		Units:       stringAttr(h, variable, "units"),
		Attrs:       make(map[string]string),
	}
	lengths := append([]int(nil), h.Lengths(variable)...)
	for i, d := range h.Dimensions(variable) {
		ax := Axis{Name: d}
		if isCoord[d] {
			if ax.Values, err = readNCF(f, d, lengths[i]); err != nil {
				return nil, errors.Wrapf(err, "geostack: reading axis %s", d)
			}
			ax.Units = stringAttr(h, d, "units")
		} else {
			ax.Values = make([]float64, lengths[i])
			for j := range ax.Values {
				ax.Values[j] = float64(j)
			}
		}
		a.Axes = append(a.Axes, ax)
	}
	for _, k := range h.Attributes("") {
		if k == "Conventions" {
			continue
		}
		if s, ok := h.GetAttribute("", k).(string); ok {
			a.Attrs[k] = s
		}
	}
	a.Data = sparse.ZerosDense(lengths...)
	if a.Data.Elements, err = readNCF(f, variable, len(a.Data.Elements)); err != nil {
		return nil, errors.Wrapf(err, "geostack: reading variable %s", variable)
	}
	return a, a.Validate()
}
