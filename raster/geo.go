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

package raster

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// GeoTransform is an axis-aligned affine transform from pixel
// indices to coordinates, following the GDAL convention: the
// upper-left corner of pixel (col, row) is at
// (X0 + col*Dx, Y0 + row*Dy). Dy is negative for north-up images.
type GeoTransform struct {
	X0, Dx float64
	Y0, Dy float64
}

// Center returns the coordinates of the center of pixel (col, row).
func (g GeoTransform) Center(col, row int) (x, y float64) {
	return g.X0 + (float64(col)+0.5)*g.Dx, g.Y0 + (float64(row)+0.5)*g.Dy
}

// XCoords returns the x coordinates of the centers of n columns.
func (g GeoTransform) XCoords(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i], _ = g.Center(i, 0)
	}
	return o
}

// YCoords returns the y coordinates of the centers of n rows.
func (g GeoTransform) YCoords(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		_, o[i] = g.Center(0, i)
	}
	return o
}

// String returns the six GDAL geotransform coefficients.
func (g GeoTransform) String() string {
	return fmt.Sprintf("%v %v 0 %v 0 %v", g.X0, g.Dx, g.Y0, g.Dy)
}

// ParseGeoTransform parses the output of GeoTransform.String.
func ParseGeoTransform(s string) (GeoTransform, error) {
	var g GeoTransform
	var rx, ry float64
	if _, err := fmt.Sscan(s, &g.X0, &g.Dx, &rx, &g.Y0, &ry, &g.Dy); err != nil {
		return g, errors.Wrapf(err, "raster: parsing geotransform %q", s)
	}
	if rx != 0 || ry != 0 {
		return g, errors.Wrapf(ErrUnsupported, "rotated geotransform %q", s)
	}
	return g, nil
}

// TransformFromCenters returns the transform whose pixel centers
// are the given coordinates. The coordinates must be evenly spaced.
func TransformFromCenters(x, y []float64) (GeoTransform, error) {
	dx, err := spacing(x)
	if err != nil {
		return GeoTransform{}, errors.Wrap(err, "raster: x coordinates")
	}
	dy, err := spacing(y)
	if err != nil {
		return GeoTransform{}, errors.Wrap(err, "raster: y coordinates")
	}
	return GeoTransform{X0: x[0] - dx/2, Dx: dx, Y0: y[0] - dy/2, Dy: dy}, nil
}

func spacing(c []float64) (float64, error) {
	if len(c) < 2 {
		return 0, fmt.Errorf("need at least 2 values to find spacing, have %d", len(c))
	}
	d := c[1] - c[0]
	for i := 2; i < len(c); i++ {
		if math.Abs((c[i]-c[i-1])-d) > 1e-6*math.Abs(d) {
			return 0, fmt.Errorf("uneven spacing at index %d", i)
		}
	}
	return d, nil
}
