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
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

type entry struct {
	tag, typ uint16
	count    int
	data     []byte
	offset   uint32
}

func shorts(v ...int) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(x))
	}
	return b
}

func longs(v ...int) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(x))
	}
	return b
}

func doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

// Encode writes r to w as an uncompressed little-endian float32
// GeoTIFF with a single strip.
func Encode(w io.Writer, r *Raster) error {
	if r.Data == nil || len(r.Data.Shape) != 3 {
		return errors.New("raster: Encode requires data with shape (band, y, x)")
	}
	bands, ny, nx := r.Data.Shape[0], r.Data.Shape[1], r.Data.Shape[2]
	if bands == 0 || ny == 0 || nx == 0 {
		return errors.New("raster: cannot encode an empty image")
	}
	perBand := func(v int) []int {
		o := make([]int, bands)
		for i := range o {
			o[i] = v
		}
		return o
	}
	pixBytes := 4 * bands * nx * ny

	entries := []*entry{
		{tag: tagImageWidth, typ: dtLong, count: 1, data: longs(nx)},
		{tag: tagImageLength, typ: dtLong, count: 1, data: longs(ny)},
		{tag: tagBitsPerSample, typ: dtShort, count: bands, data: shorts(perBand(32)...)},
		{tag: tagCompression, typ: dtShort, count: 1, data: shorts(1)},
		{tag: tagPhotometric, typ: dtShort, count: 1, data: shorts(1)},
		{tag: tagStripOffsets, typ: dtLong, count: 1, data: longs(0)},
		{tag: tagSamplesPerPixel, typ: dtShort, count: 1, data: shorts(bands)},
		{tag: tagRowsPerStrip, typ: dtLong, count: 1, data: longs(ny)},
		{tag: tagStripByteCounts, typ: dtLong, count: 1, data: longs(pixBytes)},
		{tag: tagPlanarConfiguration, typ: dtShort, count: 1, data: shorts(1)},
		{tag: tagSampleFormat, typ: dtShort, count: bands, data: shorts(perBand(SampleFloat)...)},
	}
	if bands > 1 {
		entries = append(entries, &entry{tag: tagExtraSamples, typ: dtShort,
			count: bands - 1, data: shorts(perBand(0)[1:]...)})
	}
	if r.Header != nil && r.Georeferenced {
		t := r.Transform
		entries = append(entries,
			&entry{tag: tagModelPixelScale, typ: dtDouble, count: 3, data: doubles(t.Dx, -t.Dy, 0)},
			&entry{tag: tagModelTiepoint, typ: dtDouble, count: 6, data: doubles(0, 0, 0, t.X0, t.Y0, 0)},
		)
		keys := []int{1, 1, 0, 1, keyRasterType, 0, 1, 1}
		if r.EPSG > 0 {
			if r.EPSG >= 4000 && r.EPSG < 5000 {
				keys = append(keys, keyModelType, 0, 1, 2, keyGeographicType, 0, 1, r.EPSG)
			} else {
				keys = append(keys, keyModelType, 0, 1, 1, keyProjectedType, 0, 1, r.EPSG)
			}
			keys[3] = 3
			sortKeys(keys)
		}
		entries = append(entries, &entry{tag: tagGeoKeyDirectory, typ: dtShort,
			count: len(keys), data: shorts(keys...)})
	}
	if r.Header != nil && r.NoData != nil {
		s := []byte(strconv.FormatFloat(*r.NoData, 'g', -1, 64) + "\x00")
		entries = append(entries, &entry{tag: tagGDALNoData, typ: dtASCII, count: len(s), data: s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Lay out the out-of-line values after the IFD, then the pixels.
	off := uint32(8 + 2 + 12*len(entries) + 4)
	for _, e := range entries {
		if len(e.data) > 4 {
			e.offset = off
			off += uint32(len(e.data))
			off += off % 2
		}
	}
	for _, e := range entries {
		if e.tag == tagStripOffsets {
			e.data = longs(int(off))
		}
	}

	bw := bufio.NewWriter(w)
	var err error
	put := func(b []byte) {
		if err == nil {
			_, err = bw.Write(b)
		}
	}
	put([]byte{'I', 'I', 42, 0})
	put(longs(8))
	put(shorts(len(entries)))
	for _, e := range entries {
		put(shorts(int(e.tag), int(e.typ)))
		put(longs(e.count))
		if len(e.data) > 4 {
			put(longs(int(e.offset)))
		} else {
			v := make([]byte, 4)
			copy(v, e.data)
			put(v)
		}
	}
	put(longs(0)) // no further IFDs
	written := uint32(8 + 2 + 12*len(entries) + 4)
	for _, e := range entries {
		if len(e.data) > 4 {
			put(e.data)
			written += uint32(len(e.data))
			if written%2 == 1 {
				put([]byte{0})
				written++
			}
		}
	}
	px := make([]byte, 4)
	plane := nx * ny
	for p := 0; p < plane; p++ {
		for b := 0; b < bands; b++ {
			binary.LittleEndian.PutUint32(px, math.Float32bits(float32(r.Data.Elements[b*plane+p])))
			put(px)
		}
	}
	if err != nil {
		return errors.Wrap(err, "raster: writing GeoTIFF")
	}
	return errors.Wrap(bw.Flush(), "raster: writing GeoTIFF")
}

// sortKeys sorts the key entries following the 4-value directory header.
func sortKeys(dir []int) {
	n := (len(dir) - 4) / 4
	ks := make([][4]int, n)
	for i := range ks {
		copy(ks[i][:], dir[4+4*i:])
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i][0] < ks[j][0] })
	for i, k := range ks {
		copy(dir[4+4*i:], k[:])
	}
}
