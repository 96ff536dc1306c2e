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
	"encoding/binary"
	"image"
	"io"
	"math"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

// Raster is a decoded image.
type Raster struct {
	*Header

	// Data holds pixel values with shape (band, y, x).
	Data *sparse.DenseArray
}

// New returns a float32 raster holding data, which must have shape
// (band, y, x).
func New(data *sparse.DenseArray, t GeoTransform, epsg int, nodata *float64) *Raster {
	return &Raster{
		Header: &Header{
			Width:         data.Shape[2],
			Height:        data.Shape[1],
			Bands:         data.Shape[0],
			BitsPerSample: 32,
			SampleFormat:  SampleFloat,
			Compression:   1,
			Photometric:   1,
			Planar:        1,
			RowsPerStrip:  data.Shape[1],
			Transform:     t,
			Georeferenced: true,
			EPSG:          epsg,
			NoData:        nodata,
		},
		Data: data,
	}
}

// Decode reads the first image in the TIFF file r, which is size bytes long.
// Compressed or tiled images must hold unsigned integer samples;
// signed integer and floating point data are only read uncompressed
// and in strips.
func Decode(r io.ReaderAt, size int64) (*Raster, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	o := &Raster{Header: h}
	if h.direct() {
		o.Data, err = decodeStrips(r, h)
	} else if err = h.checkImage(); err != nil {
		return nil, err
	} else {
		o.Data, err = decodeImage(io.NewSectionReader(r, 0, size), h)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// direct reports whether the pixel data can be read without
// decompression. Palette and sub-byte images are left to the image
// decoder.
func (h *Header) direct() bool {
	return h.Compression == 1 && !h.Tiled && h.StripOffsets != nil &&
		h.Photometric != 3 && h.BitsPerSample >= 8 && h.BitsPerSample%8 == 0
}

// checkImage reports whether an image that is not read directly can
// be decoded by the image/tiff package.
func (h *Header) checkImage() error {
	switch h.SampleFormat {
	case SampleUint:
		return nil
	case SampleInt:
		return errors.Wrap(ErrUnsupported, "compressed or tiled signed integer data")
	default:
		return errors.Wrap(ErrUnsupported, "compressed or tiled floating point data")
	}
}

// sampleReader returns a function converting one encoded sample to float64.
func sampleReader(h *Header) (func([]byte) float64, error) {
	bo := h.byteOrder
	switch {
	case h.SampleFormat == SampleFloat && h.BitsPerSample == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, nil
	case h.SampleFormat == SampleFloat && h.BitsPerSample == 64:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, nil
	case h.SampleFormat == SampleInt && h.BitsPerSample == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case h.SampleFormat == SampleInt && h.BitsPerSample == 16:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, nil
	case h.SampleFormat == SampleInt && h.BitsPerSample == 32:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, nil
	case h.SampleFormat == SampleUint && h.BitsPerSample == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case h.SampleFormat == SampleUint && h.BitsPerSample == 16:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }, nil
	case h.SampleFormat == SampleUint && h.BitsPerSample == 32:
		return func(b []byte) float64 { return float64(bo.Uint32(b)) }, nil
	}
	return nil, errors.Wrapf(ErrUnsupported, "%d-bit samples of format %d", h.BitsPerSample, h.SampleFormat)
}

// decodeStrips decodes uncompressed strips directly.
func decodeStrips(r io.ReaderAt, h *Header) (*sparse.DenseArray, error) {
	sample, err := sampleReader(h)
	if err != nil {
		return nil, err
	}
	if len(h.StripOffsets) != len(h.StripByteCounts) {
		return nil, errors.Wrap(ErrFormat, "strip offsets and byte counts differ in length")
	}
	bps := h.BitsPerSample / 8
	rowSamples := h.Width * h.Bands
	if h.Planar == 2 {
		rowSamples = h.Width
	}
	total := h.Width * h.Height * h.Bands * bps
	buf := make([]byte, 0, total)
	for i, off := range h.StripOffsets {
		n := int64(h.rowsIn(i) * rowSamples * bps)
		if h.StripByteCounts[i] < n {
			n = h.StripByteCounts[i]
		}
		strip := make([]byte, n)
		if _, err := r.ReadAt(strip, off); err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "raster: reading strip %d", i)
		}
		buf = append(buf, strip...)
	}
	if len(buf) < total {
		return nil, errors.Wrapf(ErrFormat, "image data is %d bytes, expected %d", len(buf), total)
	}

	o := sparse.ZerosDense(h.Bands, h.Height, h.Width)
	plane := h.Width * h.Height
	for k := 0; k < plane*h.Bands; k++ {
		v := sample(buf[k*bps : (k+1)*bps])
		if h.Planar == 2 {
			o.Elements[k] = v // band-major already
		} else {
			o.Elements[(k%h.Bands)*plane+k/h.Bands] = v
		}
	}
	return o, nil
}

// decodeImage decodes compressed or tiled images with the tiff package.
func decodeImage(r io.Reader, h *Header) (*sparse.DenseArray, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		if _, ok := err.(tiff.UnsupportedError); ok {
			return nil, errors.Wrap(ErrUnsupported, err.Error())
		}
		return nil, errors.Wrap(err, "raster: decoding image")
	}
	b := img.Bounds()
	nx, ny := b.Dx(), b.Dy()
	bands := h.Bands
	if bands > 4 {
		return nil, errors.Wrapf(ErrUnsupported, "%d compressed bands", bands)
	}
	o := sparse.ZerosDense(bands, ny, nx)
	plane := nx * ny
	set := func(band, x, y int, v float64) {
		o.Elements[band*plane+y*nx+x] = v
	}
	switch m := img.(type) {
	case *image.Gray:
		o = sparse.ZerosDense(1, ny, nx)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				set(0, x, y, float64(m.Pix[y*m.Stride+x]))
			}
		}
	case *image.Gray16:
		o = sparse.ZerosDense(1, ny, nx)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				set(0, x, y, float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Paletted:
		o = sparse.ZerosDense(1, ny, nx)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				set(0, x, y, float64(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y)))
			}
		}
	case *image.RGBA:
		eachPix8(m.Pix, m.Stride, nx, ny, bands, set)
	case *image.NRGBA:
		eachPix8(m.Pix, m.Stride, nx, ny, bands, set)
	case *image.RGBA64:
		eachPix16(m.Pix, m.Stride, nx, ny, bands, set)
	case *image.NRGBA64:
		eachPix16(m.Pix, m.Stride, nx, ny, bands, set)
	default:
		return nil, errors.Wrapf(ErrUnsupported, "image type %T", img)
	}
	return o, nil
}

func eachPix8(pix []byte, stride, nx, ny, bands int, set func(band, x, y int, v float64)) {
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			p := pix[y*stride+4*x:]
			for c := 0; c < bands; c++ {
				set(c, x, y, float64(p[c]))
			}
		}
	}
}

func eachPix16(pix []byte, stride, nx, ny, bands int, set func(band, x, y int, v float64)) {
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			p := pix[y*stride+8*x:]
			for c := 0; c < bands; c++ {
				set(c, x, y, float64(binary.BigEndian.Uint16(p[2*c:])))
			}
		}
	}
}
