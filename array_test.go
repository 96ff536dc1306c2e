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
	"math"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// grid returns a (y, x) array with values offset + index.
func grid(t *testing.T, ny, nx int, offset float64, attrs map[string]string) *LabeledArray {
	t.Helper()
	data := sparse.ZerosDense(ny, nx)
	for i := range data.Elements {
		data.Elements[i] = offset + float64(i)
	}
	ys, xs := make([]float64, ny), make([]float64, nx)
	for i := range ys {
		ys[i] = float64(ny - i)
	}
	for i := range xs {
		xs[i] = float64(i)
	}
	a, err := NewLabeledArray(DefaultName, data, Axis{Name: YDim, Values: ys}, Axis{Name: XDim, Values: xs})
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range attrs {
		a.Attrs[k] = v
	}
	return a
}

func dated(t *testing.T, a *LabeledArray, day string) *LabeledArray {
	t.Helper()
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatal(err)
	}
	o, err := a.ExpandDims(TimeAxis("date", d))
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestNewLabeledArrayValidate(t *testing.T) {
	_, err := NewLabeledArray("v", sparse.ZerosDense(2, 3), Axis{Name: "a", Values: []float64{0, 1}})
	if err == nil {
		t.Error("axis count mismatch should fail")
	}
	_, err = NewLabeledArray("v", sparse.ZerosDense(2), Axis{Name: "a", Values: []float64{0, 1, 2}})
	if err == nil {
		t.Error("axis length mismatch should fail")
	}
	_, err = NewLabeledArray("v", sparse.ZerosDense(1, 1), Axis{Name: "a", Values: []float64{0}},
		Axis{Name: "a", Values: []float64{0}})
	if err == nil {
		t.Error("duplicate axes should fail")
	}
}

func TestConcat(t *testing.T) {
	a := dated(t, grid(t, 2, 3, 0, map[string]string{"crs": "EPSG:4326", "source": "a"}), "2020-02-07")
	b := dated(t, grid(t, 2, 3, 10, map[string]string{"crs": "EPSG:4326", "source": "b"}), "2016-05-01")
	c, err := Concat("date", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 2, 3}, c.Shape()); diff != "" {
		t.Errorf("shape (-want +have):\n%s", diff)
	}
	if c.Data.Get(1, 1, 2) != 15 || c.Data.Get(0, 1, 2) != 5 {
		t.Errorf("values: %v", c.Data.Elements)
	}
	if diff := cmp.Diff(map[string]string{"crs": "EPSG:4326"}, c.Attrs); diff != "" {
		t.Errorf("attrs (-want +have):\n%s", diff)
	}

	s, err := c.SortAxis("date")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2016-05-01", "2020-02-07"}, s.Axes[0].Labels()); diff != "" {
		t.Errorf("sorted labels (-want +have):\n%s", diff)
	}
	if s.Data.Get(0, 0, 0) != 10 || s.Data.Get(1, 0, 0) != 0 {
		t.Errorf("sorted values: %v", s.Data.Elements)
	}

	first, err := s.Slice("date", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(grid(t, 2, 3, 0, map[string]string{"crs": "EPSG:4326"})) {
		t.Errorf("slice: %v", first)
	}
	col, err := s.Slice(XDim, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{12, 15, 2, 5}, col.Data.Elements); diff != "" {
		t.Errorf("column slice (-want +have):\n%s", diff)
	}
	if _, err := s.Slice("date", 2); err == nil {
		t.Error("out of range slice should fail")
	}
}

func TestConcatMismatch(t *testing.T) {
	a := dated(t, grid(t, 2, 3, 0, nil), "2020-02-07")
	b := dated(t, grid(t, 3, 3, 0, map[string]string{"source": "b.tiff"}), "2016-05-01")
	_, err := Concat("date", a, b)
	var serr *ShapeMismatchError
	if !errors.As(err, &serr) {
		t.Fatalf("want shape mismatch, have %v", err)
	}
	if serr.Source != "b.tiff" {
		t.Errorf("source: %q", serr.Source)
	}
	c := dated(t, grid(t, 2, 3, 0, map[string]string{"crs": "EPSG:32615", "source": "c.tiff"}), "2016-05-01")
	d := dated(t, grid(t, 2, 3, 0, map[string]string{"crs": "EPSG:4326"}), "2020-02-07")
	if _, err := Concat("date", d, c); !errors.As(err, &serr) || serr.Source != "c.tiff" {
		t.Errorf("differing crs: want shape mismatch from c.tiff, have %v", err)
	}
	if _, err := Concat("date"); err != ErrEmptyInput {
		t.Errorf("no arrays: %v", err)
	}
	if _, err := Concat("band", a); err == nil {
		t.Error("missing axis should fail")
	}
}

func TestSqueeze(t *testing.T) {
	a := dated(t, grid(t, 2, 3, 0, nil), "2020-02-07")
	b, err := a.Squeeze("date")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Equal(grid(t, 2, 3, 0, nil)) {
		t.Errorf("squeeze: %v", b)
	}
	if _, err := a.Squeeze(YDim); err == nil {
		t.Error("squeezing a long axis should fail")
	}
	if _, err := a.ExpandDims(Axis{Name: "date", Values: []float64{1}}); err == nil {
		t.Error("duplicate axis should fail")
	}
}

func TestChecksum(t *testing.T) {
	a := grid(t, 2, 3, 0, map[string]string{"x": "1", "y": "2"})
	b := grid(t, 2, 3, 0, map[string]string{"y": "2", "x": "1"})
	if a.Checksum() != b.Checksum() {
		t.Error("checksum depends on attribute order")
	}
	a.Data.Elements[0] = math.NaN()
	b.Data.Elements[0] = math.NaN()
	if !a.Equal(b) || a.Checksum() != b.Checksum() {
		t.Error("NaN values should compare equal")
	}
	b.Data.Elements[1] = 100
	if a.Checksum() == b.Checksum() {
		t.Error("checksum ignores values")
	}
	c := grid(t, 2, 3, 0, nil)
	c.Axes[1].Units = "m"
	if c.Checksum() == grid(t, 2, 3, 0, nil).Checksum() {
		t.Error("checksum ignores axis units")
	}
}

func TestAxisTimes(t *testing.T) {
	want := []time.Time{
		time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 7, 12, 30, 0, 0, time.UTC),
	}
	ax := TimeAxis("date", want...)
	have, err := ax.Times()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("(-want +have):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2016-05-01", "2020-02-07T12:30:00Z"}, ax.Labels()); diff != "" {
		t.Errorf("labels (-want +have):\n%s", diff)
	}
	if _, err := (Axis{Name: "band", Values: []float64{1}}).Times(); err == nil {
		t.Error("band axis is not a time axis")
	}
}
