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

// Package raster reads and writes single-image GeoTIFF files.
package raster

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrFormat is returned when the input is not a TIFF file.
	ErrFormat = errors.New("raster: not a valid TIFF file")

	// ErrUnsupported is returned for valid TIFF files with a layout
	// that cannot be decoded.
	ErrUnsupported = errors.New("raster: unsupported TIFF layout")
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagTileWidth           = 322
	tagExtraSamples        = 338
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKey identifiers.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	rasterPixelIsPoint = 2
)

// Sample formats.
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

// maxFieldSize bounds the size of a single IFD field.
const maxFieldSize = 1 << 28

// Header holds the layout and georeferencing of a TIFF image.
type Header struct {
	Width, Height int

	// Bands is the number of samples per pixel.
	Bands int

	BitsPerSample int
	SampleFormat  int
	Compression   int
	Photometric   int
	Planar        int
	RowsPerStrip  int
	Tiled         bool

	StripOffsets    []int64
	StripByteCounts []int64

	// Transform maps pixel indices to coordinates. It is
	// the identity transform when Georeferenced is false.
	Transform     GeoTransform
	Georeferenced bool

	// EPSG is the coordinate reference system code, or 0 if unknown.
	EPSG int

	// NoData is the missing-data value, or nil if none is set.
	NoData *float64

	byteOrder binary.ByteOrder
}

type field struct {
	typ   uint16
	count int
	data  []byte
}

func (f field) ints(bo binary.ByteOrder) []int64 {
	o := make([]int64, f.count)
	for i := range o {
		switch f.typ {
		case dtByte, dtUndefined:
			o[i] = int64(f.data[i])
		case dtSByte:
			o[i] = int64(int8(f.data[i]))
		case dtShort:
			o[i] = int64(bo.Uint16(f.data[2*i:]))
		case dtSShort:
			o[i] = int64(int16(bo.Uint16(f.data[2*i:])))
		case dtLong:
			o[i] = int64(bo.Uint32(f.data[4*i:]))
		case dtSLong:
			o[i] = int64(int32(bo.Uint32(f.data[4*i:])))
		default:
			return nil
		}
	}
	return o
}

func (f field) floats(bo binary.ByteOrder) []float64 {
	switch f.typ {
	case dtFloat:
		o := make([]float64, f.count)
		for i := range o {
			o[i] = float64(math.Float32frombits(bo.Uint32(f.data[4*i:])))
		}
		return o
	case dtDouble:
		o := make([]float64, f.count)
		for i := range o {
			o[i] = math.Float64frombits(bo.Uint64(f.data[8*i:]))
		}
		return o
	case dtRational, dtSRational:
		o := make([]float64, f.count)
		for i := range o {
			if f.typ == dtRational {
				o[i] = float64(bo.Uint32(f.data[8*i:])) / float64(bo.Uint32(f.data[8*i+4:]))
			} else {
				o[i] = float64(int32(bo.Uint32(f.data[8*i:]))) / float64(int32(bo.Uint32(f.data[8*i+4:])))
			}
		}
		return o
	}
	ii := f.ints(bo)
	if ii == nil {
		return nil
	}
	o := make([]float64, len(ii))
	for i, v := range ii {
		o[i] = float64(v)
	}
	return o
}

func (f field) ascii() string {
	return strings.TrimRight(string(f.data), "\x00 ")
}

// ReadHeader reads the header of the first image in a TIFF file.
// Pixel data is not read.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return nil, ErrFormat
	}
	h := new(Header)
	switch string(buf[0:2]) {
	case "II":
		h.byteOrder = binary.LittleEndian
	case "MM":
		h.byteOrder = binary.BigEndian
	default:
		return nil, ErrFormat
	}
	switch h.byteOrder.Uint16(buf[2:4]) {
	case 42:
	case 43:
		return nil, errors.Wrap(ErrUnsupported, "BigTIFF")
	default:
		return nil, ErrFormat
	}
	fields, err := readIFD(r, h.byteOrder, int64(h.byteOrder.Uint32(buf[4:8])))
	if err != nil {
		return nil, err
	}
	if err := h.fill(fields); err != nil {
		return nil, err
	}
	return h, nil
}

func readIFD(r io.ReaderAt, bo binary.ByteOrder, off int64) (map[uint16]field, error) {
	var nb [2]byte
	if _, err := r.ReadAt(nb[:], off); err != nil {
		return nil, errors.Wrap(ErrFormat, "reading IFD entry count")
	}
	n := int(bo.Uint16(nb[:]))
	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, errors.Wrap(ErrFormat, "reading IFD entries")
	}
	fields := make(map[uint16]field, n)
	for i := 0; i < n; i++ {
		e := buf[12*i : 12*(i+1)]
		tag := bo.Uint16(e[0:2])
		f := field{typ: bo.Uint16(e[2:4]), count: int(bo.Uint32(e[4:8]))}
		sz, ok := typeSize[f.typ]
		if !ok {
			continue // Unknown types must be ignored.
		}
		size := sz * f.count
		if size > maxFieldSize || f.count < 0 {
			return nil, errors.Wrapf(ErrFormat, "tag %d is too large", tag)
		}
		if size <= 4 {
			f.data = append([]byte(nil), e[8:8+size]...)
		} else {
			f.data = make([]byte, size)
			if _, err := r.ReadAt(f.data, int64(bo.Uint32(e[8:12]))); err != nil {
				return nil, errors.Wrapf(ErrFormat, "reading tag %d", tag)
			}
		}
		fields[tag] = f
	}
	return fields, nil
}

func (h *Header) fill(fields map[uint16]field) error {
	bo := h.byteOrder
	first := func(tag uint16, def int64) int64 {
		f, ok := fields[tag]
		if !ok {
			return def
		}
		v := f.ints(bo)
		if len(v) == 0 {
			return def
		}
		return v[0]
	}
	h.Width = int(first(tagImageWidth, 0))
	h.Height = int(first(tagImageLength, 0))
	if h.Width <= 0 || h.Height <= 0 {
		return errors.Wrap(ErrFormat, "missing image dimensions")
	}
	h.Bands = int(first(tagSamplesPerPixel, 1))
	h.Compression = int(first(tagCompression, 1))
	h.Photometric = int(first(tagPhotometric, 1))
	h.Planar = int(first(tagPlanarConfiguration, 1))
	h.RowsPerStrip = int(first(tagRowsPerStrip, int64(h.Height)))
	if h.RowsPerStrip <= 0 || h.RowsPerStrip > h.Height {
		h.RowsPerStrip = h.Height
	}
	h.SampleFormat = int(first(tagSampleFormat, SampleUint))
	_, h.Tiled = fields[tagTileWidth]

	if f, ok := fields[tagBitsPerSample]; ok {
		bits := f.ints(bo)
		if len(bits) == 0 {
			return errors.Wrap(ErrFormat, "empty BitsPerSample")
		}
		for _, b := range bits[1:] {
			if b != bits[0] {
				return errors.Wrap(ErrUnsupported, "mixed bits per sample")
			}
		}
		h.BitsPerSample = int(bits[0])
	} else {
		h.BitsPerSample = 1
	}
	if f, ok := fields[tagStripOffsets]; ok {
		h.StripOffsets = f.ints(bo)
	}
	if f, ok := fields[tagStripByteCounts]; ok {
		h.StripByteCounts = f.ints(bo)
	}

	h.Transform = GeoTransform{Dx: 1, Dy: 1}
	if f, ok := fields[tagModelTransformation]; ok {
		m := f.floats(bo)
		if len(m) != 16 {
			return errors.Wrap(ErrFormat, "invalid ModelTransformation")
		}
		if m[1] != 0 || m[4] != 0 {
			return errors.Wrap(ErrUnsupported, "rotated geotransform")
		}
		h.Transform = GeoTransform{X0: m[3], Dx: m[0], Y0: m[7], Dy: m[5]}
		h.Georeferenced = true
	} else if tp, ok := fields[tagModelTiepoint]; ok {
		sc, ok := fields[tagModelPixelScale]
		t, s := tp.floats(bo), sc.floats(bo)
		if !ok || len(t) < 6 || len(s) < 2 {
			return errors.Wrap(ErrFormat, "incomplete tiepoint georeferencing")
		}
		h.Transform = GeoTransform{
			X0: t[3] - t[0]*s[0],
			Dx: s[0],
			Y0: t[4] + t[1]*s[1],
			Dy: -s[1],
		}
		h.Georeferenced = true
	}
	if f, ok := fields[tagGeoKeyDirectory]; ok {
		keys := geoKeys(f.ints(bo))
		if keys[keyRasterType] == rasterPixelIsPoint && h.Georeferenced {
			h.Transform.X0 -= h.Transform.Dx / 2
			h.Transform.Y0 -= h.Transform.Dy / 2
		}
		if c := keys[keyProjectedType]; c > 0 && c != 32767 {
			h.EPSG = int(c)
		} else if c := keys[keyGeographicType]; c > 0 && c != 32767 {
			h.EPSG = int(c)
		}
	}
	if f, ok := fields[tagGDALNoData]; ok {
		s := strings.TrimSpace(f.ascii())
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			h.NoData = &v
		} else if strings.EqualFold(s, "nan") {
			v := math.NaN()
			h.NoData = &v
		}
	}
	return nil
}

// geoKeys returns the short-valued keys in a GeoKeyDirectory.
func geoKeys(dir []int64) map[int64]int64 {
	o := make(map[int64]int64)
	if len(dir) < 4 {
		return o
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		k := dir[4+4*i : 8+4*i]
		if k[1] == 0 { // value stored inline
			o[k[0]] = k[3]
		}
	}
	return o
}

// rowsIn returns the number of image rows held by strip i of a plane.
func (h *Header) rowsIn(i int) int {
	perPlane := (h.Height + h.RowsPerStrip - 1) / h.RowsPerStrip
	i %= perPlane
	if rem := h.Height - i*h.RowsPerStrip; rem < h.RowsPerStrip {
		return rem
	}
	return h.RowsPerStrip
}
