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
	"fmt"
	"sort"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"github.com/spatialmodel/geostack/internal/hash"
)

// DefaultName is the variable name given to stacked raster data.
const DefaultName = "band_data"

// LabeledArray is an N-dimensional array with a named, labeled axis
// for each dimension.
//
// Data may be nil, in which case the array describes the layout of
// data that has not been read yet.
type LabeledArray struct {
	Name        string
	Description string
	Units       string

	Axes  []Axis
	Attrs map[string]string

	// Data holds the values in C order, with
	// Data.Shape[i] == Axes[i].Len().
	Data *sparse.DenseArray
}

// NewLabeledArray returns an array holding data with the given axes.
func NewLabeledArray(name string, data *sparse.DenseArray, axes ...Axis) (*LabeledArray, error) {
	a := &LabeledArray{Name: name, Axes: axes, Attrs: make(map[string]string), Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks that the axes match the data.
func (a *LabeledArray) Validate() error {
	seen := make(map[string]bool)
	for _, ax := range a.Axes {
		if ax.Name == "" {
			return errors.New("geostack: unnamed axis")
		}
		if seen[ax.Name] {
			return errors.Errorf("geostack: duplicate axis %s", ax.Name)
		}
		seen[ax.Name] = true
	}
	if a.Data == nil {
		return nil
	}
	if len(a.Data.Shape) != len(a.Axes) {
		return errors.Errorf("geostack: %d axes for %d-dimensional data", len(a.Axes), len(a.Data.Shape))
	}
	for i, ax := range a.Axes {
		if ax.Len() != a.Data.Shape[i] {
			return errors.Errorf("geostack: axis %s has %d labels but dimension %d has length %d",
				ax.Name, ax.Len(), i, a.Data.Shape[i])
		}
	}
	if len(a.Data.Elements) != size(a.Shape()) {
		return errors.Errorf("geostack: data has %d values, shape %v needs %d",
			len(a.Data.Elements), a.Shape(), size(a.Shape()))
	}
	return nil
}

// Dims returns the axis names.
func (a *LabeledArray) Dims() []string {
	o := make([]string, len(a.Axes))
	for i, ax := range a.Axes {
		o[i] = ax.Name
	}
	return o
}

// Shape returns the axis lengths.
func (a *LabeledArray) Shape() []int {
	o := make([]int, len(a.Axes))
	for i, ax := range a.Axes {
		o[i] = ax.Len()
	}
	return o
}

// AxisIndex returns the position of the named axis, or -1.
func (a *LabeledArray) AxisIndex(name string) int {
	for i, ax := range a.Axes {
		if ax.Name == name {
			return i
		}
	}
	return -1
}

// Axis returns the named axis.
func (a *LabeledArray) Axis(name string) (Axis, bool) {
	i := a.AxisIndex(name)
	if i < 0 {
		return Axis{}, false
	}
	return a.Axes[i], true
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// meta returns a copy of a without data.
func (a *LabeledArray) meta() *LabeledArray {
	o := &LabeledArray{
		Name:        a.Name,
		Description: a.Description,
		Units:       a.Units,
		Axes:        make([]Axis, len(a.Axes)),
		Attrs:       make(map[string]string, len(a.Attrs)),
	}
	for i, ax := range a.Axes {
		o.Axes[i] = ax.copy()
	}
	for k, v := range a.Attrs {
		o.Attrs[k] = v
	}
	return o
}

// withData returns a copy of the metadata of a holding the given
// values, which must be in C order for the shape of a.
func (a *LabeledArray) withData(elements []float64) *LabeledArray {
	o := a.meta()
	o.Data = sparse.ZerosDense(o.Shape()...)
	copy(o.Data.Elements, elements)
	return o
}

// ExpandDims returns a copy of a with the length-1 axis ax prepended.
func (a *LabeledArray) ExpandDims(ax Axis) (*LabeledArray, error) {
	if ax.Len() != 1 {
		return nil, errors.Errorf("geostack: new axis %s must have 1 label, has %d", ax.Name, ax.Len())
	}
	if a.AxisIndex(ax.Name) >= 0 {
		return nil, errors.Errorf("geostack: axis %s already exists", ax.Name)
	}
	o := a.meta()
	o.Axes = append([]Axis{ax.copy()}, o.Axes...)
	if a.Data != nil {
		o.Data = sparse.ZerosDense(o.Shape()...)
		copy(o.Data.Elements, a.Data.Elements)
	}
	return o, nil
}

// Squeeze returns a copy of a without the named axis, which must have
// length 1.
func (a *LabeledArray) Squeeze(dim string) (*LabeledArray, error) {
	i := a.AxisIndex(dim)
	if i < 0 {
		return nil, errors.Errorf("geostack: no axis %s to squeeze", dim)
	}
	if a.Axes[i].Len() != 1 {
		return nil, errors.Errorf("geostack: cannot squeeze axis %s of length %d", dim, a.Axes[i].Len())
	}
	o := a.meta()
	o.Axes = append(o.Axes[:i], o.Axes[i+1:]...)
	if a.Data != nil {
		o.Data = sparse.ZerosDense(o.Shape()...)
		copy(o.Data.Elements, a.Data.Elements)
	}
	return o, nil
}

// blocks returns the product of the lengths before and after axis k.
func blocks(shape []int, k int) (outer, inner int) {
	return size(shape[:k]), size(shape[k+1:])
}

// Slice returns the sub-array at index i of the named axis, without
// that axis.
func (a *LabeledArray) Slice(dim string, i int) (*LabeledArray, error) {
	k := a.AxisIndex(dim)
	if k < 0 {
		return nil, errors.Errorf("geostack: no axis %s", dim)
	}
	n := a.Axes[k].Len()
	if i < 0 || i >= n {
		return nil, errors.Errorf("geostack: index %d out of range for axis %s of length %d", i, dim, n)
	}
	o := a.meta()
	o.Axes = append(o.Axes[:k], o.Axes[k+1:]...)
	if a.Data == nil {
		return o, nil
	}
	o.Data = sparse.ZerosDense(o.Shape()...)
	outer, inner := blocks(a.Shape(), k)
	for j := 0; j < outer; j++ {
		src := (j*n + i) * inner
		copy(o.Data.Elements[j*inner:(j+1)*inner], a.Data.Elements[src:src+inner])
	}
	return o, nil
}

// permute returns a copy of a with the indices along axis k reordered
// so that output index j holds input index perm[j].
func (a *LabeledArray) permute(k int, perm []int) *LabeledArray {
	o := a.meta()
	for j, p := range perm {
		o.Axes[k].Values[j] = a.Axes[k].Values[p]
	}
	if a.Data == nil {
		return o
	}
	o.Data = sparse.ZerosDense(o.Shape()...)
	n := len(perm)
	outer, inner := blocks(a.Shape(), k)
	for b := 0; b < outer; b++ {
		for j, p := range perm {
			dst := (b*n + j) * inner
			src := (b*n + p) * inner
			copy(o.Data.Elements[dst:dst+inner], a.Data.Elements[src:src+inner])
		}
	}
	return o
}

// SortAxis returns a copy of a with the named axis in ascending label
// order. Equal labels keep their relative order.
func (a *LabeledArray) SortAxis(dim string) (*LabeledArray, error) {
	k := a.AxisIndex(dim)
	if k < 0 {
		return nil, errors.Errorf("geostack: no axis %s to sort", dim)
	}
	return a.permute(k, sortOrder(a.Axes[k].Values)), nil
}

func sortOrder(v []float64) []int {
	perm := make([]int, len(v))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return v[perm[i]] < v[perm[j]] })
	return perm
}

// Concat joins arrays along the named axis, which every input must
// have. All other axes must match. Attributes with the same value in
// every input are kept. If no input has data, the result describes
// the layout only.
func Concat(dim string, arrays ...*LabeledArray) (*LabeledArray, error) {
	if len(arrays) == 0 {
		return nil, ErrEmptyInput
	}
	first := arrays[0]
	k := first.AxisIndex(dim)
	if k < 0 {
		return nil, errors.Errorf("geostack: cannot concatenate along missing axis %s", dim)
	}
	o := first.meta()
	o.Axes[k].Values = nil
	withData := first.Data != nil
	for _, a := range arrays {
		if (a.Data != nil) != withData {
			return nil, errors.New("geostack: cannot concatenate arrays with and without data")
		}
		if err := sameLayout(first, a, k); err != nil {
			return nil, err
		}
		o.Axes[k].Values = append(o.Axes[k].Values, a.Axes[k].Values...)
		for key, v := range o.Attrs {
			if a.Attrs[key] != v {
				delete(o.Attrs, key)
			}
		}
	}
	if !withData {
		return o, nil
	}
	o.Data = sparse.ZerosDense(o.Shape()...)
	total := o.Axes[k].Len()
	outer, inner := blocks(o.Shape(), k)
	off := 0
	for _, a := range arrays {
		n := a.Axes[k].Len()
		for b := 0; b < outer; b++ {
			dst := (b*total + off) * inner
			src := b * n * inner
			copy(o.Data.Elements[dst:dst+n*inner], a.Data.Elements[src:src+n*inner])
		}
		off += n
	}
	return o, nil
}

// sameLayout checks that a matches ref on every axis except k.
func sameLayout(ref, a *LabeledArray, k int) error {
	mismatch := func() error {
		return &ShapeMismatchError{Source: a.Attrs[AttrSource], Want: describe(ref, k), Have: describe(a, k)}
	}
	if len(a.Axes) != len(ref.Axes) || a.AxisIndex(ref.Axes[k].Name) != k {
		return mismatch()
	}
	for i, ax := range ref.Axes {
		if i != k && !ax.aligned(a.Axes[i]) {
			return mismatch()
		}
	}
	if want, have := ref.Attrs[AttrCRS], a.Attrs[AttrCRS]; want != have {
		return &ShapeMismatchError{Source: a.Attrs[AttrSource], Want: "crs " + want, Have: "crs " + have}
	}
	return nil
}

// describe summarizes the axes of a other than the concatenation axis.
func describe(a *LabeledArray, skip int) string {
	var s []string
	for i, ax := range a.Axes {
		if i == skip {
			s = append(s, ax.Name)
			continue
		}
		s = append(s, ax.describe())
	}
	return "axes (" + strings.Join(s, ", ") + ")"
}

// Equal reports whether a and b have identical metadata and values.
// NaN values compare equal.
func (a *LabeledArray) Equal(b *LabeledArray) bool {
	if a.Name != b.Name || a.Description != b.Description || a.Units != b.Units {
		return false
	}
	if len(a.Axes) != len(b.Axes) || len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for i, ax := range a.Axes {
		if !ax.Equal(b.Axes[i]) {
			return false
		}
	}
	for k, v := range a.Attrs {
		if w, ok := b.Attrs[k]; !ok || w != v {
			return false
		}
	}
	if (a.Data == nil) != (b.Data == nil) {
		return false
	}
	if a.Data == nil {
		return true
	}
	if len(a.Data.Elements) != len(b.Data.Elements) {
		return false
	}
	for i, v := range a.Data.Elements {
		if !sameFloat(v, b.Data.Elements[i]) {
			return false
		}
	}
	return true
}

// Checksum returns a fingerprint of the metadata and values of a.
// Arrays that are Equal have the same checksum regardless of how
// they were stored.
func (a *LabeledArray) Checksum() string {
	h := hashLayout(a)
	if a.Data != nil {
		h.AddFloats(a.Data.Elements)
	}
	return h.Sum()
}

func hashLayout(a *LabeledArray) *hash.Hasher {
	h := hash.New()
	h.Add([]string{a.Name, a.Description, a.Units})
	for _, ax := range a.Axes {
		h.Add([]string{ax.Name, ax.Units})
		h.AddFloats(ax.Values)
	}
	keys := make([]string, 0, len(a.Attrs))
	for k := range a.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Add([]string{k, a.Attrs[k]})
	}
	return h
}

// String summarizes the array.
func (a *LabeledArray) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %v", a.Name, a.Shape())
	for _, ax := range a.Axes {
		fmt.Fprintf(&b, "\n  %s", ax.describe())
		if ax.Units != "" {
			fmt.Fprintf(&b, " (%s)", ax.Units)
		}
	}
	keys := make([]string, 0, len(a.Attrs))
	for k := range a.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  @%s: %s", k, a.Attrs[k])
	}
	return b.String()
}
