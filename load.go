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
	"github.com/spatialmodel/geostack/cloud"
	"github.com/spatialmodel/geostack/raster"
)

// Raster attribute names.
const (
	AttrCRS       = "crs"
	AttrNoData    = "nodata"
	AttrTransform = "transform"
	AttrSource    = "source"
	AttrSources   = "sources"
)

// BandDim, YDim and XDim are the names of the raster axes.
const (
	BandDim = "band"
	YDim    = "y"
	XDim    = "x"
)

// openRasterFile opens path, mapping missing files to ErrFileNotFound.
func openRasterFile(ctx context.Context, path string) (cloud.File, error) {
	f, err := cloud.OpenFile(ctx, path)
	if cloud.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "opening %s", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "geostack: opening %s", path)
	}
	return f, nil
}

// rasterLayout returns a data-less array describing a raster with
// header h, with axes (band, y, x).
func rasterLayout(h *raster.Header, source string) *LabeledArray {
	bands := make([]float64, h.Bands)
	for i := range bands {
		bands[i] = float64(i + 1)
	}
	a := &LabeledArray{
		Name: DefaultName,
		Axes: []Axis{
			{Name: BandDim, Values: bands},
			{Name: YDim, Values: h.Transform.YCoords(h.Height)},
			{Name: XDim, Values: h.Transform.XCoords(h.Width)},
		},
		Attrs: map[string]string{
			AttrSource:    baseName(source),
			AttrTransform: h.Transform.String(),
		},
	}
	if h.EPSG > 0 {
		a.Attrs[AttrCRS] = "EPSG:" + strconv.Itoa(h.EPSG)
	}
	if h.NoData != nil {
		a.Attrs[AttrNoData] = strconv.FormatFloat(*h.NoData, 'g', -1, 64)
	}
	return a
}

// ReadRasterLayout reads only the header of the raster at path and
// returns an array without data describing it.
func ReadRasterLayout(ctx context.Context, path string) (*LabeledArray, error) {
	f, err := openRasterFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := raster.ReadHeader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "geostack: reading %s", path)
	}
	return rasterLayout(h, path), nil
}

// OpenRaster reads the raster at path, which may be a local path or a
// blob path, into an array with axes (band, y, x). Compressed or tiled
// files with signed integer or floating point samples, such as
// LZW-compressed int16 elevation models, fail with raster.ErrUnsupported.
func OpenRaster(ctx context.Context, path string) (*LabeledArray, error) {
	f, err := openRasterFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := raster.Decode(f, f.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "geostack: decoding %s", path)
	}
	a := rasterLayout(r.Header, path)
	a.Data = r.Data
	return a, nil
}

// ToRaster converts a 2- or 3-dimensional array with y and x axes
// (and optionally a leading band axis) to a raster.
func ToRaster(a *LabeledArray) (*raster.Raster, error) {
	dims := strings.Join(a.Dims(), ",")
	data := a.Data
	switch dims {
	case BandDim + "," + YDim + "," + XDim:
	case YDim + "," + XDim:
		data = sparse.ZerosDense(1, a.Axes[0].Len(), a.Axes[1].Len())
		copy(data.Elements, a.Data.Elements)
	default:
		return nil, errors.Errorf("geostack: cannot convert axes (%s) to a raster", dims)
	}
	x, _ := a.Axis(XDim)
	y, _ := a.Axis(YDim)
	t, err := raster.ParseGeoTransform(a.Attrs[AttrTransform])
	if err != nil {
		if t, err = raster.TransformFromCenters(x.Values, y.Values); err != nil {
			return nil, errors.Wrap(err, "geostack: no geotransform")
		}
	}
	var epsg int
	if c := a.Attrs[AttrCRS]; strings.HasPrefix(c, "EPSG:") {
		epsg, _ = strconv.Atoi(strings.TrimPrefix(c, "EPSG:"))
	}
	var nodata *float64
	if s, ok := a.Attrs[AttrNoData]; ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			nodata = &v
		}
	}
	return raster.New(data, t, epsg, nodata), nil
}

// StackOptions configure Stack.
type StackOptions struct {
	// Dim names the new axis. The default is "date".
	Dim string

	// Labels labels the files along Dim. The default is a DateParser
	// with default settings.
	Labels Labeler

	// SqueezeBands removes the band axis from single-band inputs.
	SqueezeBands bool

	// Log receives progress messages. The default is the standard logger.
	Log logrus.FieldLogger
}

func (o *StackOptions) defaults() {
	if o.Dim == "" {
		o.Dim = "date"
	}
	if o.Labels == nil {
		o.Labels = DateParser{}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// Stack reads every file and joins them along a new leading axis,
// in the given order. Labels for all files are determined before
// any file is read, so a malformed name fails the whole stack.
func Stack(ctx context.Context, files []string, o StackOptions) (*LabeledArray, error) {
	o.defaults()
	if len(files) == 0 {
		return nil, ErrEmptyInput
	}
	labels, err := Labels(o.Dim, files, o.Labels)
	if err != nil {
		return nil, err
	}
	parts := make([]*LabeledArray, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := OpenRaster(ctx, f)
		if err != nil {
			return nil, err
		}
		if parts[i], err = stackPart(a, o.SqueezeBands, Axis{Name: o.Dim, Units: labels.Units,
			Values: labels.Values[i : i+1]}); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := sameLayout(parts[0], parts[i], 0); err != nil {
				return nil, err
			}
		}
		o.Log.WithFields(logrus.Fields{"file": f, o.Dim: labels.Label(i)}).Debug("read raster")
	}
	out, err := Concat(o.Dim, parts...)
	if err != nil {
		return nil, err
	}
	out.Attrs[AttrSources] = joinSources(files)
	o.Log.WithFields(logrus.Fields{"files": len(files), "shape": out.Shape()}).Info("stacked rasters")
	return out, nil
}

// stackPart prepares one per-file array for concatenation.
func stackPart(a *LabeledArray, squeeze bool, label Axis) (*LabeledArray, error) {
	var err error
	if squeeze {
		if b, ok := a.Axis(BandDim); ok && b.Len() == 1 {
			if a, err = a.Squeeze(BandDim); err != nil {
				return nil, err
			}
		}
	}
	return a.ExpandDims(label)
}

func joinSources(files []string) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = baseName(f)
	}
	return strings.Join(names, "\n")
}
