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

package geostackutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spatialmodel/geostack"
	"github.com/spatialmodel/geostack/catalog"
	"github.com/spatialmodel/geostack/cloud"
	"github.com/spatialmodel/geostack/raster"
)

// scenes writes three single-band 10×10 GeoTIFFs to a new directory.
func scenes(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, offset := range map[string]float64{
		"2016-05-01, Landsat scene.tiff": 0,
		"2019-02-15, Landsat scene.tiff": 100,
		"2020-02-07, Landsat scene.tiff": 200,
	} {
		writeScene(t, filepath.Join(dir, name), offset)
	}
	return dir
}

func writeScene(t *testing.T, path string, offset float64) {
	t.Helper()
	data := sparse.ZerosDense(1, 10, 10)
	for i := range data.Elements {
		data.Elements[i] = offset + float64(i)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	tr := raster.GeoTransform{X0: 300000, Dx: 30, Y0: 5000000, Dy: -30}
	if err := raster.Encode(f, raster.New(data, tr, 32615, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, cfg *Cfg, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cfg.Root.SetOut(&out)
	cfg.Root.SetErr(&out)
	cfg.Root.SetArgs(append(args, "--LogLevel=warning"))
	err := cfg.Root.Execute()
	return out.String(), err
}

func TestStack(t *testing.T) {
	in := scenes(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.sqlite")
	for _, name := range []string{"stack.nc", "stack.zarr"} {
		out := filepath.Join(dir, name)
		for run := 0; run < 2; run++ {
			cfg := InitializeConfig()
			_, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+out,
				"--Catalog="+db, "--Overwrite")
			if err != nil {
				t.Fatal(err)
			}
		}
		a, err := geostack.Load(context.Background(), out, "")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{3, 10, 10}, a.Shape()); diff != "" {
			t.Errorf("%s: shape (-want +have):\n%s", name, diff)
		}
		if diff := cmp.Diff([]string{"2016-05-01", "2019-02-15", "2020-02-07"}, a.Axes[0].Labels()); diff != "" {
			t.Errorf("%s: dates (-want +have):\n%s", name, diff)
		}
	}

	c, err := catalog.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	records, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("want 4 records, have %d", len(records))
	}
	for i := 0; i < 4; i += 2 {
		if records[i].Checksum != records[i+1].Checksum {
			t.Errorf("%s: checksum changed between identical runs", records[i].Destination)
		}
	}
	if records[0].Checksum != records[2].Checksum {
		t.Error("NetCDF and Zarr outputs have different checksums")
	}
	if records[0].Format != "netcdf" || records[2].Format != "zarr" {
		t.Errorf("formats: %s, %s", records[0].Format, records[2].Format)
	}

	cfg := InitializeConfig()
	out, err := execute(t, cfg, "catalog", "--Catalog="+db)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "2016-05-01 to 2020-02-07"); n != 4 {
		t.Errorf("catalog listing has %d runs:\n%s", n, out)
	}
}

func TestStackLazySorted(t *testing.T) {
	in := scenes(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "stack.zarr")
	db := filepath.Join(dir, "runs.sqlite")
	cfg := InitializeConfig()
	_, err := execute(t, cfg, "stack", "-i", in, "-o", out, "--Lazy", "--Sort", "-w", "3",
		"--Compressor=gzip", "--SqueezeBands=false", "--Catalog="+db)
	if err != nil {
		t.Fatal(err)
	}
	a, err := geostack.Load(context.Background(), out, "")
	if err != nil {
		t.Fatal(err)
	}
	c, err := catalog.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	r, ok, err := c.Latest(context.Background(), out)
	if err != nil || !ok {
		t.Fatalf("latest run: %v %v", ok, err)
	}
	if r.Checksum != a.Checksum() {
		t.Errorf("recorded checksum %s does not match the saved output %s", r.Checksum, a.Checksum())
	}
	if diff := cmp.Diff([]int{3, 1, 10, 10}, a.Shape()); diff != "" {
		t.Errorf("shape (-want +have):\n%s", diff)
	}
	if v := a.Data.Get(2, 0, 9, 9); v != 299 {
		t.Errorf("last value: want 299, have %g", v)
	}
}

func TestStackBadName(t *testing.T) {
	in := scenes(t)
	writeScene(t, filepath.Join(in, "not-a-date, X.tiff"), 0)
	out := filepath.Join(t.TempDir(), "stack.nc")
	for _, lazy := range []string{"--Lazy=false", "--Lazy=true"} {
		cfg := InitializeConfig()
		_, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+out, lazy)
		if !errors.Is(err, geostack.ErrDateParse) {
			t.Errorf("%s: want date parse error, have %v", lazy, err)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("%s: output was written", lazy)
		}
	}
}

func TestStackConflict(t *testing.T) {
	in := scenes(t)
	out := filepath.Join(t.TempDir(), "stack.nc")
	cfg := InitializeConfig()
	if _, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+out); err != nil {
		t.Fatal(err)
	}
	cfg = InitializeConfig()
	_, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+out)
	if !errors.Is(err, geostack.ErrWriteConflict) {
		t.Errorf("want write conflict, have %v", err)
	}
}

func TestStackIndexLabels(t *testing.T) {
	in := t.TempDir()
	for i, name := range []string{"B04.tiff", "B03.tiff", "B02.tiff"} {
		writeScene(t, filepath.Join(in, name), float64(i))
	}
	out := filepath.Join(t.TempDir(), "bands.nc")
	cfg := InitializeConfig()
	_, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+out, "--Labels=index", "--Dim=band")
	if err != nil {
		t.Fatal(err)
	}
	a, err := geostack.Load(context.Background(), out, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"band", "y", "x"}, a.Dims()); diff != "" {
		t.Errorf("dims (-want +have):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, a.Axes[0].Values); diff != "" {
		t.Errorf("labels (-want +have):\n%s", diff)
	}
}

func TestInfoExport(t *testing.T) {
	in := scenes(t)
	dir := t.TempDir()
	stack := filepath.Join(dir, "stack.nc")
	cfg := InitializeConfig()
	if _, err := execute(t, cfg, "stack", "--InputDir="+in, "--OutputFile="+stack); err != nil {
		t.Fatal(err)
	}

	cfg = InitializeConfig()
	out, err := execute(t, cfg, "info", stack)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"band_data [3 10 10]", "date: 2016-05-01, 2019-02-15, 2020-02-07",
		`crs = "EPSG:32615"`, "checksum: "} {
		if !strings.Contains(out, want) {
			t.Errorf("info output lacks %q:\n%s", want, out)
		}
	}

	defer cloud.ResetMem()
	for _, tiff := range []string{filepath.Join(dir, "layer.tiff"), "mem://export/layer.tiff"} {
		cfg = InitializeConfig()
		if _, err := execute(t, cfg, "export", stack, "--Index=1", "--OutputFile="+tiff); err != nil {
			t.Fatal(err)
		}
		f, err := cloud.OpenFile(context.Background(), tiff)
		if err != nil {
			t.Fatal(err)
		}
		r, err := raster.Decode(f, f.Size())
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if r.EPSG != 32615 || r.Transform.X0 != 300000 {
			t.Errorf("%s: georeferencing: %d %v", tiff, r.EPSG, r.Transform)
		}
		if v := r.Data.Get(0, 0, 5); v != 105 {
			t.Errorf("%s: want 105, have %g", tiff, v)
		}
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "geostack.toml")
	err := os.WriteFile(conf, []byte(`
InputDir = "${GEOSTACK_TEST_DIR}/scenes"
Suffix = ".tif"
Workers = 4
DateLayouts = ["20060102"]
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEOSTACK_TEST_DIR", dir)
	t.Setenv("GEOSTACK_DELIMITER", "_")
	cfg := InitializeConfig()
	cfg.Set("config", conf)
	if err := cfg.Root.PersistentPreRunE(cfg.stackCmd, nil); err != nil {
		t.Fatal(err)
	}
	in, err := checkInputDir(cfg.GetString("InputDir"))
	if err != nil {
		t.Fatal(err)
	}
	if want := dir + "/scenes"; in != want {
		t.Errorf("InputDir: want %s, have %s", want, in)
	}
	if cfg.GetString("Suffix") != ".tif" || cfg.GetInt("Workers") != 4 {
		t.Errorf("Suffix %q, Workers %d", cfg.GetString("Suffix"), cfg.GetInt("Workers"))
	}
	l, err := cfg.labeler()
	if err != nil {
		t.Fatal(err)
	}
	p := l.(geostack.DateParser)
	if p.Delimiter != "_" {
		t.Errorf("Delimiter: %q", p.Delimiter)
	}
	if diff := cmp.Diff([]string{"20060102"}, p.Layouts); diff != "" {
		t.Errorf("layouts (-want +have):\n%s", diff)
	}
}

func TestCheckOutputFile(t *testing.T) {
	if _, err := checkOutputFile(""); err == nil {
		t.Error("empty output should fail")
	}
	if _, err := checkOutputFile(filepath.Join(t.TempDir(), "missing", "out.nc")); err == nil {
		t.Error("missing directory should fail")
	}
	if _, err := checkOutputFile("mem://bucket/out.zarr"); err != nil {
		t.Error(err)
	}
}

func TestVersion(t *testing.T) {
	cfg := InitializeConfig()
	out, err := execute(t, cfg, "version")
	if err != nil {
		t.Fatal(err)
	}
	if want := "geostack v" + geostack.Version; !strings.Contains(out, want) {
		t.Errorf("want %q, have %q", want, out)
	}
}
