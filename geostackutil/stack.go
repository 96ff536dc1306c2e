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
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack"
	"github.com/spatialmodel/geostack/catalog"
)

// runStack stacks the files in the configured input directory and
// saves the result.
func (cfg *Cfg) runStack(ctx context.Context) error {
	inputDir, err := checkInputDir(cfg.GetString("InputDir"))
	if err != nil {
		return err
	}
	outputFile, err := checkOutputFile(cfg.GetString("OutputFile"))
	if err != nil {
		return err
	}
	format, err := geostack.ParseFormat(cfg.GetString("Format"))
	if err != nil {
		return err
	}
	labels, err := cfg.labeler()
	if err != nil {
		return err
	}
	files, err := geostack.ListFiles(ctx, inputDir, cfg.GetString("Suffix"))
	if err != nil {
		return err
	}
	dim := cfg.GetString("Dim")
	workers := cfg.GetInt("Workers")
	log := cfg.log.WithField("input", inputDir)
	log.WithField("files", len(files)).Info("found input files")

	var src geostack.Source
	if cfg.GetBool("Lazy") {
		s, err := geostack.OpenLazy(ctx, files, geostack.LazyOptions{
			Dim:          dim,
			Preprocess:   geostack.AttachLabel(dim, labels, files),
			SqueezeBands: cfg.GetBool("SqueezeBands"),
			Log:          log,
		})
		if err != nil {
			return err
		}
		if cfg.GetBool("Sort") {
			s.SortByLabel()
		}
		src = s
	} else {
		a, err := geostack.Stack(ctx, files, geostack.StackOptions{
			Dim:          dim,
			Labels:       labels,
			SqueezeBands: cfg.GetBool("SqueezeBands"),
			Log:          log,
		})
		if err != nil {
			return err
		}
		if cfg.GetBool("Sort") {
			if a, err = a.SortAxis(dim); err != nil {
				return err
			}
		}
		src = geostack.ArraySource(a)
	}

	err = geostack.Save(ctx, src, outputFile, geostack.SaveOptions{
		Format:     format,
		Overwrite:  cfg.GetBool("Overwrite"),
		Workers:    workers,
		Compressor: cfg.GetString("Compressor"),
		Log:        log,
	})
	if err != nil {
		return err
	}
	if path := cfg.GetString("Catalog"); path != "" {
		return cfg.record(ctx, path, outputFile, format, src)
	}
	return nil
}

// record adds the output saved from src to the catalog, logging
// whether it differs from the previous output at the same location.
func (cfg *Cfg) record(ctx context.Context, path, outputFile string, format geostack.Format, src geostack.Source) error {
	sum, err := geostack.SourceChecksum(ctx, src)
	if err != nil {
		return errors.Wrap(err, "geostack: computing checksum")
	}
	a := src.Layout()
	if format == geostack.FormatAuto {
		format, _ = geostack.FormatOf(outputFile)
	}
	c, err := catalog.Open(ctx, path)
	if err != nil {
		return err
	}
	defer c.Close()
	r := catalog.Record{
		Destination: outputFile,
		Format:      format.String(),
		Checksum:    sum,
	}
	if len(a.Axes) > 0 {
		r.Dim = a.Axes[0].Name
		r.Length = a.Axes[0].Len()
		r.Labels = a.Axes[0].Labels()
	}
	if s := a.Attrs[geostack.AttrSources]; s != "" {
		r.Sources = strings.Split(s, "\n")
	}
	prev, ok, err := c.Latest(ctx, outputFile)
	if err != nil {
		return err
	}
	if r, err = c.Add(ctx, r); err != nil {
		return err
	}
	log := cfg.log.WithFields(logrus.Fields{"run": r.ID, "checksum": r.Checksum})
	switch {
	case !ok:
		log.Info("recorded first run for this output")
	case prev.Checksum == r.Checksum:
		log.WithField("previous_run", prev.ID).Info("output is unchanged since the previous run")
	default:
		log.WithField("previous_run", prev.ID).Warn("output differs from the previous run")
	}
	return nil
}
