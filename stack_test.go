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
	"testing"

	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack/raster"
)

var testTransform = raster.GeoTransform{X0: -100, Dx: 0.5, Y0: 40, Dy: -0.5}

var quietLog = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}()

// writeTIFF writes a float32 GeoTIFF whose values count up from offset.
func writeTIFF(t *testing.T, dir, name string, bands, ny, nx int, offset float64) string {
	t.Helper()
	data := sparse.ZerosDense(bands, ny, nx)
	for i := range data.Elements {
		data.Elements[i] = offset + float64(i)
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := raster.Encode(f, raster.New(data, testTransform, 4326, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

// threeScenes writes three single-band 10×10 scenes out of date order
// and returns the directory.
func threeScenes(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTIFF(t, dir, "2019-02-15, Landsat scene.tiff", 1, 10, 10, 100)
	writeTIFF(t, dir, "2020-02-07, Landsat scene.tiff", 1, 10, 10, 200)
	writeTIFF(t, dir, "2016-05-01, Landsat scene.tiff", 1, 10, 10, 0)
	return dir
}

func listScenes(t *testing.T, dir string) []string {
	t.Helper()
	files, err := ListFiles(context.Background(), dir, ".tiff")
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestStackDates(t *testing.T) {
	files := listScenes(t, threeScenes(t))
	a, err := Stack(context.Background(), files, StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{3, 10, 10}, a.Shape()); diff != "" {
		t.Errorf("shape (-want +have):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"date", YDim, XDim}, a.Dims()); diff != "" {
		t.Errorf("dims (-want +have):\n%s", diff)
	}
	dates := a.Axes[0].Labels()
	if diff := cmp.Diff([]string{"2016-05-01", "2019-02-15", "2020-02-07"}, dates); diff != "" {
		t.Errorf("dates (-want +have):\n%s", diff)
	}
	if v := a.Data.Get(1, 2, 3); v != 123 {
		t.Errorf("value at (1, 2, 3): want 123, have %g", v)
	}
	if a.Attrs[AttrCRS] != "EPSG:4326" {
		t.Errorf("crs: %q", a.Attrs[AttrCRS])
	}
	if _, ok := a.Attrs[AttrSource]; ok {
		t.Error("per-file source attribute should not survive stacking")
	}
	y, _ := a.Axis(YDim)
	if y.Values[0] != 39.75 {
		t.Errorf("first y center: want 39.75, have %g", y.Values[0])
	}
}

func TestStackKeepBands(t *testing.T) {
	files := listScenes(t, threeScenes(t))
	a, err := Stack(context.Background(), files, StackOptions{Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"date", BandDim, YDim, XDim}, a.Dims()); diff != "" {
		t.Errorf("dims (-want +have):\n%s", diff)
	}
}

func TestStackBadName(t *testing.T) {
	dir := threeScenes(t)
	writeTIFF(t, dir, "not-a-date, X.tiff", 1, 10, 10, 0)
	files := listScenes(t, dir)
	_, err := Stack(context.Background(), files, StackOptions{Log: quietLog})
	if !errors.Is(err, ErrDateParse) {
		t.Fatalf("want date parse error, have %v", err)
	}
	var perr *DateParseError
	if !errors.As(err, &perr) || perr.Token != "not-a-date" {
		t.Errorf("error details: %+v", perr)
	}
	_, err = OpenLazy(context.Background(), files, LazyOptions{Log: quietLog})
	if !errors.Is(err, ErrDateParse) {
		t.Errorf("lazy: want date parse error, have %v", err)
	}
}

func TestStackShapeMismatch(t *testing.T) {
	dir := threeScenes(t)
	writeTIFF(t, dir, "2021-01-01, other.tiff", 1, 10, 12, 0)
	files := listScenes(t, dir)
	for _, lazy := range []bool{false, true} {
		var err error
		if lazy {
			_, err = OpenLazy(context.Background(), files, LazyOptions{Log: quietLog})
		} else {
			_, err = Stack(context.Background(), files, StackOptions{Log: quietLog})
		}
		if !errors.Is(err, ErrShapeMismatch) {
			t.Fatalf("lazy=%v: want shape mismatch, have %v", lazy, err)
		}
		var serr *ShapeMismatchError
		if !errors.As(err, &serr) || serr.Source != "2021-01-01, other.tiff" {
			t.Errorf("lazy=%v: error details: %+v", lazy, serr)
		}
	}
}

func TestStackCRSMismatch(t *testing.T) {
	dir := threeScenes(t)
	f, err := os.Create(filepath.Join(dir, "2021-01-01, reprojected.tiff"))
	if err != nil {
		t.Fatal(err)
	}
	if err := raster.Encode(f, raster.New(sparse.ZerosDense(1, 10, 10), testTransform, 32615, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	files := listScenes(t, dir)
	for _, lazy := range []bool{false, true} {
		if lazy {
			_, err = OpenLazy(context.Background(), files, LazyOptions{Log: quietLog})
		} else {
			_, err = Stack(context.Background(), files, StackOptions{Log: quietLog})
		}
		var serr *ShapeMismatchError
		if !errors.As(err, &serr) || serr.Source != "2021-01-01, reprojected.tiff" {
			t.Errorf("lazy=%v: want shape mismatch from the reprojected file, have %v", lazy, err)
		}
	}
}

func TestStackEmpty(t *testing.T) {
	if _, err := Stack(context.Background(), nil, StackOptions{}); err != ErrEmptyInput {
		t.Errorf("eager: %v", err)
	}
	if _, err := OpenLazy(context.Background(), nil, LazyOptions{}); err != ErrEmptyInput {
		t.Errorf("lazy: %v", err)
	}
}

func TestStackMissingFile(t *testing.T) {
	files := []string{filepath.Join(t.TempDir(), "2020-01-01, gone.tiff")}
	if _, err := Stack(context.Background(), files, StackOptions{Log: quietLog}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("eager: %v", err)
	}
	if _, err := OpenLazy(context.Background(), files, LazyOptions{Log: quietLog}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("lazy: %v", err)
	}
}

func TestLazyMatchesEager(t *testing.T) {
	ctx := context.Background()
	files := listScenes(t, threeScenes(t))
	want, err := Stack(ctx, files, StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	s, err := OpenLazy(ctx, files, LazyOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Layout().Equal(want.meta()) {
		t.Errorf("layout: want %v, have %v", want, s.Layout())
	}
	for _, workers := range []int{1, 4} {
		have, err := s.Materialize(ctx, workers)
		if err != nil {
			t.Fatal(err)
		}
		if !have.Equal(want) {
			t.Errorf("workers=%d: lazy stack differs from eager stack", workers)
		}
	}
}

func TestSortByLabel(t *testing.T) {
	ctx := context.Background()
	dir := threeScenes(t)
	files := []string{
		filepath.Join(dir, "2020-02-07, Landsat scene.tiff"),
		filepath.Join(dir, "2016-05-01, Landsat scene.tiff"),
		filepath.Join(dir, "2019-02-15, Landsat scene.tiff"),
	}
	want, err := Stack(ctx, listScenes(t, dir), StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	unsorted, err := Stack(ctx, files, StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	if unsorted.Axes[0].Label(0) != "2020-02-07" {
		t.Errorf("input order should be kept, have %v", unsorted.Axes[0].Labels())
	}
	sorted, err := unsorted.SortAxis("date")
	if err != nil {
		t.Fatal(err)
	}
	if !sorted.Equal(withSources(want, unsorted)) {
		t.Errorf("eager sort: have %v", sorted.Axes[0].Labels())
	}

	s, err := OpenLazy(ctx, files, LazyOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	s.SortByLabel()
	have, err := s.Materialize(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !have.Equal(want) {
		t.Errorf("lazy sort: have %v", have.Axes[0].Labels())
	}
}

// withSources returns a copy of a with the sources attribute of b.
func withSources(a, b *LabeledArray) *LabeledArray {
	o := a.withData(a.Data.Elements)
	o.Attrs[AttrSources] = b.Attrs[AttrSources]
	return o
}

func TestLazyPreprocess(t *testing.T) {
	ctx := context.Background()
	files := listScenes(t, threeScenes(t))
	s, err := OpenLazy(ctx, files, LazyOptions{
		Dim:          "scene",
		Preprocess:   AttachLabel("scene", IndexLabeler{}, files),
		SqueezeBands: true,
		Log:          quietLog,
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, s.Layout().Axes[0].Values); diff != "" {
		t.Errorf("labels (-want +have):\n%s", diff)
	}
	c, err := s.Chunk(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v := c.Data.Get(0, 0, 1); v != 201 {
		t.Errorf("chunk value: want 201, have %g", v)
	}

	_, err = OpenLazy(ctx, files, LazyOptions{
		Preprocess: func(a *LabeledArray, _ string) (*LabeledArray, error) { return a, nil },
		Log:        quietLog,
	})
	if err == nil {
		t.Error("preprocessing without a stack axis should fail")
	}
}

func TestToRaster(t *testing.T) {
	files := listScenes(t, threeScenes(t))
	a, err := Stack(context.Background(), files, StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.Slice("date", 1)
	if err != nil {
		t.Fatal(err)
	}
	r, err := ToRaster(s)
	if err != nil {
		t.Fatal(err)
	}
	if r.Transform != testTransform {
		t.Errorf("transform: want %v, have %v", testTransform, r.Transform)
	}
	if r.EPSG != 4326 {
		t.Errorf("EPSG: %d", r.EPSG)
	}
	if diff := cmp.Diff([]int{1, 10, 10}, r.Data.Shape); diff != "" {
		t.Errorf("shape (-want +have):\n%s", diff)
	}
	if r.Data.Get(0, 9, 9) != 199 {
		t.Errorf("last value: %g", r.Data.Get(0, 9, 9))
	}
	if _, err := ToRaster(a); err == nil {
		t.Error("a 3-d stack is not a raster")
	}
}
