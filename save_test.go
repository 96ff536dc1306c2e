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
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/spatialmodel/geostack/cloud"
)

func stackScenes(t *testing.T) *LabeledArray {
	t.Helper()
	a, err := Stack(context.Background(), listScenes(t, threeScenes(t)),
		StackOptions{SqueezeBands: true, Log: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"out.nc":                 FormatNetCDF,
		"a/b/out.NCF":            FormatNetCDF,
		"gs://bucket/stack.zarr": FormatZarr,
		"stack.zarr/":            FormatZarr,
	} {
		have, err := FormatOf(path)
		if err != nil {
			t.Errorf("%s: %v", path, err)
		} else if have != want {
			t.Errorf("%s: want %v, have %v", path, want, have)
		}
	}
	if _, err := FormatOf("out.tiff"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("tiff: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	a := stackScenes(t)
	dir := t.TempDir()
	for _, name := range []string{"stack.nc", "stack.zarr"} {
		for _, workers := range []int{1, 3} {
			p := filepath.Join(dir, name)
			err := Save(ctx, ArraySource(a), p, SaveOptions{Workers: workers, Overwrite: true, Log: quietLog})
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			b, err := Load(ctx, p, "")
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !b.Equal(a) {
				t.Errorf("%s workers=%d: round trip changed the array:\nwant %v\nhave %v", name, workers, a, b)
			}
			if b.Checksum() != a.Checksum() {
				t.Errorf("%s: checksum changed", name)
			}
		}
	}
}

func TestSaveCompressors(t *testing.T) {
	ctx := context.Background()
	a := stackScenes(t)
	for _, c := range []string{"zstd", "gzip", "zlib", "none"} {
		p := filepath.Join(t.TempDir(), "stack.zarr")
		if err := Save(ctx, ArraySource(a), p, SaveOptions{Compressor: c, Log: quietLog}); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		b, err := Load(ctx, p, "")
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !b.Equal(a) {
			t.Errorf("%s: round trip changed the array", c)
		}
	}
	if err := Save(ctx, ArraySource(a), filepath.Join(t.TempDir(), "x.zarr"),
		SaveOptions{Compressor: "lz4", Log: quietLog}); err == nil {
		t.Error("unknown compressor should fail")
	}
}

func TestSaveLazy(t *testing.T) {
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
	for _, name := range []string{"lazy.nc", "lazy.zarr"} {
		p := filepath.Join(t.TempDir(), name)
		if err := Save(ctx, s, p, SaveOptions{Workers: 4, Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		have, err := Load(ctx, p, "")
		if err != nil {
			t.Fatal(err)
		}
		if !have.Equal(want) {
			t.Errorf("%s: saved lazy stack differs from eager stack", name)
		}
		sum, err := SourceChecksum(ctx, s)
		if err != nil {
			t.Fatal(err)
		}
		if sum != have.Checksum() {
			t.Errorf("%s: streamed checksum %s, saved checksum %s", name, sum, have.Checksum())
		}
	}
}

func TestForEachChunkContext(t *testing.T) {
	src := ArraySource(stackScenes(t))
	var n atomic.Int32
	count := func(int, *LabeledArray) error {
		n.Add(1)
		return nil
	}
	if err := forEachChunk(context.Background(), src, 2, count); err != nil {
		t.Fatal(err)
	}
	if n.Load() != 3 {
		t.Errorf("want 3 chunks, have %d", n.Load())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := forEachChunk(ctx, src, 2, count); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled context: %v", err)
	}
}

func TestIdempotentRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := stackScenes(t)
	for _, name := range []string{"stack.nc", "stack.zarr"} {
		dir := t.TempDir()
		p1, p2 := filepath.Join(dir, "1-"+name), filepath.Join(dir, "2-"+name)
		if err := Save(ctx, ArraySource(a), p1, SaveOptions{Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		b, err := Load(ctx, p1, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := Save(ctx, ArraySource(b), p2, SaveOptions{Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		c, err := Load(ctx, p2, "")
		if err != nil {
			t.Fatal(err)
		}
		if c.Checksum() != a.Checksum() {
			t.Errorf("%s: checksum changed after two round trips", name)
		}
	}
}

func TestSaveConflict(t *testing.T) {
	ctx := context.Background()
	a := stackScenes(t)
	first, err := a.Slice("date", 0)
	if err != nil {
		t.Fatal(err)
	}
	first, err = first.ExpandDims(Axis{Name: "date", Units: TimeUnits, Values: a.Axes[0].Values[:1]})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"stack.nc", "stack.zarr"} {
		p := filepath.Join(t.TempDir(), name)
		if err := Save(ctx, ArraySource(a), p, SaveOptions{Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		err := Save(ctx, ArraySource(first), p, SaveOptions{Log: quietLog})
		if !errors.Is(err, ErrWriteConflict) {
			t.Errorf("%s: want write conflict, have %v", name, err)
		}
		b, err := Load(ctx, p, "")
		if err != nil {
			t.Fatal(err)
		}
		if !b.Equal(a) {
			t.Errorf("%s: failed save changed the output", name)
		}
		if err := Save(ctx, ArraySource(first), p, SaveOptions{Overwrite: true, Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		if b, err = Load(ctx, p, ""); err != nil {
			t.Fatal(err)
		}
		if !b.Equal(first) {
			t.Errorf("%s: overwrite: have %v", name, b)
		}
		entries, _ := os.ReadDir(filepath.Dir(p))
		if len(entries) != 1 {
			t.Errorf("%s: temporary outputs left behind: %v", name, entries)
		}
	}
}

type failingSource struct {
	Source
	at int
}

func (s failingSource) Chunk(ctx context.Context, i int) (*LabeledArray, error) {
	if i == s.at {
		return nil, errors.New("read failure")
	}
	return s.Source.Chunk(ctx, i)
}

func TestSaveFailureLeavesNoOutput(t *testing.T) {
	ctx := context.Background()
	src := failingSource{Source: ArraySource(stackScenes(t)), at: 2}
	for _, name := range []string{"stack.nc", "stack.zarr"} {
		dir := t.TempDir()
		if err := Save(ctx, src, filepath.Join(dir, name), SaveOptions{Workers: 2, Log: quietLog}); err == nil {
			t.Fatalf("%s: want error", name)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("%s: failed save left %v", name, entries)
		}
	}
}

func TestSaveFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	defer cloud.ResetMem()
	a := stackScenes(t)
	src := failingSource{Source: ArraySource(a), at: 2}
	dir := t.TempDir()
	for _, p := range []string{
		filepath.Join(dir, "stack.nc"),
		filepath.Join(dir, "stack.zarr"),
		"mem://keep/out/stack.nc",
		"mem://keep/out/stack.zarr",
	} {
		if err := Save(ctx, ArraySource(a), p, SaveOptions{Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		if err := Save(ctx, src, p, SaveOptions{Overwrite: true, Workers: 2, Log: quietLog}); err == nil {
			t.Fatalf("%s: want error", p)
		}
		b, err := Load(ctx, p, "")
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if !b.Equal(a) {
			t.Errorf("%s: failed overwrite changed the output", p)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("temporary outputs left behind: %v", entries)
	}
	b, err := cloud.Open(ctx, "mem://keep/out")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	keys, err := cloud.Keys(ctx, b.Bucket, "out/")
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if strings.Contains(k, ".tmp-") {
			t.Errorf("staging object left behind: %s", k)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{
		filepath.Join(t.TempDir(), "none.nc"),
		filepath.Join(t.TempDir(), "none.zarr"),
		"mem://missing/none.nc",
		"mem://missing/none.zarr",
	} {
		if _, err := Load(ctx, p, ""); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("%s: want file not found, have %v", p, err)
		}
	}
}

func TestSaveLoadBlob(t *testing.T) {
	ctx := context.Background()
	defer cloud.ResetMem()
	a := stackScenes(t)
	first, err := a.Slice("date", 0)
	if err != nil {
		t.Fatal(err)
	}
	first, err = first.ExpandDims(Axis{Name: "date", Units: TimeUnits, Values: a.Axes[0].Values[:1]})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"mem://test/out/stack.nc", "mem://test/out/stack.zarr"} {
		if err := Save(ctx, ArraySource(a), p, SaveOptions{Workers: 2, Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		b, err := Load(ctx, p, "")
		if err != nil {
			t.Fatal(err)
		}
		if !b.Equal(a) {
			t.Errorf("%s: round trip changed the array", p)
		}
		if err := Save(ctx, ArraySource(a), p, SaveOptions{Log: quietLog}); !errors.Is(err, ErrWriteConflict) {
			t.Errorf("%s: want write conflict, have %v", p, err)
		}
		if err := Save(ctx, ArraySource(first), p, SaveOptions{Overwrite: true, Log: quietLog}); err != nil {
			t.Fatal(err)
		}
		if b, err = Load(ctx, p, ""); err != nil {
			t.Fatal(err)
		}
		if !b.Equal(first) {
			t.Errorf("%s: overwrite: have %v", p, b)
		}
	}
	stale, err := Exists(ctx, "mem://test/out/stack.zarr/band_data/2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("chunks of the replaced group were not removed")
	}
}
