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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack"
	"github.com/spatialmodel/geostack/catalog"
	"github.com/spatialmodel/geostack/cloud"
	"github.com/spatialmodel/geostack/raster"
	"github.com/spf13/cobra"
)

// info prints a summary of the stack at path.
func (cfg *Cfg) info(cmd *cobra.Command, path string) error {
	a, err := geostack.Load(cmd.Context(), os.ExpandEnv(path), cfg.GetString("Variable"))
	if err != nil {
		return err
	}
	cmd.Println(a.String())
	for _, ax := range a.Axes {
		if ax.Name == geostack.YDim || ax.Name == geostack.XDim {
			continue
		}
		cmd.Printf("%s: %s\n", ax.Name, strings.Join(ax.Labels(), ", "))
	}
	keys := make([]string, 0, len(a.Attrs))
	for k := range a.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Printf("%s = %q\n", k, a.Attrs[k])
	}
	cmd.Printf("checksum: %s\n", a.Checksum())
	return nil
}

// export writes one layer of the stack at path to a GeoTIFF.
func (cfg *Cfg) export(ctx context.Context, path string) error {
	outputFile, err := checkOutputFile(cfg.GetString("OutputFile"))
	if err != nil {
		return err
	}
	exists, err := geostack.Exists(ctx, outputFile)
	if err != nil {
		return err
	}
	if exists && !cfg.GetBool("Overwrite") {
		return errors.Wrapf(geostack.ErrWriteConflict, "%s", outputFile)
	}
	a, err := geostack.Load(ctx, os.ExpandEnv(path), cfg.GetString("Variable"))
	if err != nil {
		return err
	}
	if len(a.Axes) == 0 {
		return errors.New("geostack: cannot export a scalar")
	}
	dim := a.Axes[0].Name
	i := cfg.GetInt("Index")
	layer, err := a.Slice(dim, i)
	if err != nil {
		return err
	}
	r, err := geostack.ToRaster(layer)
	if err != nil {
		return err
	}

	u := new(uploader)
	local := u.maybeUpload(outputFile)
	if u.err != nil {
		return u.err
	}
	defer u.cleanup()
	f, err := os.Create(local)
	if err != nil {
		return errors.Wrap(err, "geostack: creating GeoTIFF")
	}
	if err := raster.Encode(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := u.uploadOutput(ctx); err != nil {
		return err
	}
	cfg.log.WithFields(logrus.Fields{
		"output": outputFile,
		dim:      a.Axes[0].Label(i),
	}).Info("exported layer")
	return nil
}

// listCatalog prints the runs in the catalog.
func (cfg *Cfg) listCatalog(cmd *cobra.Command) error {
	path := os.ExpandEnv(cfg.GetString("Catalog"))
	if path == "" {
		return errors.New(`you need to specify a catalog configuration variable (for example: Catalog="runs.sqlite")`)
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(geostack.ErrFileNotFound, "catalog %s", path)
	}
	c, err := catalog.Open(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer c.Close()
	records, err := c.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range records {
		labels := ""
		if len(r.Labels) > 0 {
			labels = r.Labels[0] + " to " + r.Labels[len(r.Labels)-1]
		}
		cmd.Printf("%d\t%s\t%s\t%s\t%s=%d\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339),
			r.Destination, r.Format, r.Dim, r.Length, labels, r.Checksum)
	}
	return nil
}

// uploader writes blob outputs to a local temporary file first and
// copies them to blob storage afterwards.
type uploader struct {
	// files is a set of file path pairs. The first of each pair
	// is a local file path and the second is a blob storage
	// path where it should be uploaded to.
	files [][2]string
	err   error
	dir   string
}

// maybeUpload checks whether the given output file path refers to
// a blob storage location. If it does, then a temporary file location
// is returned. The file will then be uploaded to blob storage when
// uploadOutput is run.
func (u *uploader) maybeUpload(path string) string {
	if u.err != nil {
		return ""
	}
	if !cloud.IsBlob(path) {
		return path
	}
	if u.dir == "" {
		u.dir, u.err = os.MkdirTemp("", "geostack")
		if u.err != nil {
			return ""
		}
	}
	local := filepath.Join(u.dir, fmt.Sprintf("%d.tiff", len(u.files)))
	u.files = append(u.files, [2]string{local, path})
	return local
}

func (u *uploader) uploadOutput(ctx context.Context) error {
	if u.err != nil {
		return u.err
	}
	for _, files := range u.files {
		if err := cloud.Upload(ctx, files[0], files[1]); err != nil {
			return err
		}
	}
	return nil
}

func (u *uploader) cleanup() {
	if u.dir != "" {
		os.RemoveAll(u.dir)
	}
}
