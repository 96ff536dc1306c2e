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

// Package zarr reads and writes Zarr version 2 groups and arrays stored
// in a blob bucket.
package zarr

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Format is the Zarr storage specification version implemented here.
const Format = 2

// Compressor identifies a chunk codec, as in .zarray metadata.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// Metadata is the content of a .zarray file.
type Metadata struct {
	ZarrFormat         int           `json:"zarr_format"`
	Shape              []int         `json:"shape"`
	Chunks             []int         `json:"chunks"`
	DType              string        `json:"dtype"`
	Compressor         *Compressor   `json:"compressor"`
	FillValue          interface{}   `json:"fill_value"`
	Order              string        `json:"order"`
	Filters            []interface{} `json:"filters"`
	DimensionSeparator string        `json:"dimension_separator,omitempty"`
}

// NewMetadata returns metadata for a little-endian float64 array
// with NaN fill.
func NewMetadata(shape, chunks []int, c *Compressor) Metadata {
	return Metadata{
		ZarrFormat:         Format,
		Shape:              shape,
		Chunks:             chunks,
		DType:              "<f8",
		Compressor:         c,
		FillValue:          "NaN",
		Order:              "C",
		DimensionSeparator: ".",
	}
}

func (m Metadata) validate() error {
	if m.ZarrFormat != Format {
		return errors.Errorf("zarr: unsupported format version %d", m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return errors.Errorf("zarr: shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for _, c := range m.Chunks {
		if c <= 0 {
			return errors.Errorf("zarr: invalid chunk shape %v", m.Chunks)
		}
	}
	if m.Order != "" && m.Order != "C" {
		return errors.Errorf("zarr: unsupported order %q", m.Order)
	}
	if len(m.Filters) > 0 {
		return errors.New("zarr: filters are not supported")
	}
	return nil
}

// fill returns the fill value as a float64.
func (m Metadata) fill() (float64, error) {
	switch v := m.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(v, 64)
	}
	return 0, errors.Errorf("zarr: invalid fill_value %v", m.FillValue)
}

// dtype describes a numeric data type string such as "<f8".
type dtype struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseDType(s string) (dtype, error) {
	if len(s) < 3 {
		return dtype{}, errors.Errorf("zarr: invalid dtype %q", s)
	}
	d := dtype{kind: s[1]}
	switch s[0] {
	case '<', '|':
		d.order = binary.LittleEndian
	case '>':
		d.order = binary.BigEndian
	default:
		return d, errors.Errorf("zarr: invalid dtype %q", s)
	}
	var err error
	if d.size, err = strconv.Atoi(s[2:]); err != nil {
		return d, errors.Errorf("zarr: invalid dtype %q", s)
	}
	switch {
	case d.kind == 'f' && (d.size == 4 || d.size == 8):
	case (d.kind == 'i' || d.kind == 'u') && (d.size == 1 || d.size == 2 || d.size == 4 || d.size == 8):
	default:
		return d, errors.Errorf("zarr: unsupported dtype %q", s)
	}
	return d, nil
}

func (d dtype) decode(b []byte, out []float64) error {
	if len(b) != d.size*len(out) {
		return errors.Errorf("zarr: chunk is %d bytes, expected %d", len(b), d.size*len(out))
	}
	for i := range out {
		p := b[i*d.size:]
		switch {
		case d.kind == 'f' && d.size == 8:
			out[i] = math.Float64frombits(d.order.Uint64(p))
		case d.kind == 'f':
			out[i] = float64(math.Float32frombits(d.order.Uint32(p)))
		case d.kind == 'i' && d.size == 1:
			out[i] = float64(int8(p[0]))
		case d.kind == 'i' && d.size == 2:
			out[i] = float64(int16(d.order.Uint16(p)))
		case d.kind == 'i' && d.size == 4:
			out[i] = float64(int32(d.order.Uint32(p)))
		case d.kind == 'i':
			out[i] = float64(int64(d.order.Uint64(p)))
		case d.size == 1:
			out[i] = float64(p[0])
		case d.size == 2:
			out[i] = float64(d.order.Uint16(p))
		case d.size == 4:
			out[i] = float64(d.order.Uint32(p))
		default:
			out[i] = float64(d.order.Uint64(p))
		}
	}
	return nil
}

func encodeFloat64(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

// codec compresses and decompresses chunks.
type codec struct {
	c   *Compressor
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(c *Compressor) (*codec, error) {
	o := &codec{c: c}
	if c == nil {
		return o, nil
	}
	switch c.ID {
	case "zstd":
		var err error
		o.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.Level)))
		if err != nil {
			return nil, errors.Wrap(err, "zarr: creating zstd encoder")
		}
		o.dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "zarr: creating zstd decoder")
		}
	case "gzip", "zlib":
	default:
		return nil, errors.Errorf("zarr: unsupported compressor %q", c.ID)
	}
	return o, nil
}

func (c *codec) encode(b []byte) ([]byte, error) {
	if c.c == nil {
		return b, nil
	}
	switch c.c.ID {
	case "zstd":
		return c.enc.EncodeAll(b, nil), nil
	case "gzip":
		buf := new(bytes.Buffer)
		w, err := gzip.NewWriterLevel(buf, c.c.Level)
		if err != nil {
			return nil, err
		}
		return finish(buf, w, b)
	default:
		buf := new(bytes.Buffer)
		w, err := zlib.NewWriterLevel(buf, c.c.Level)
		if err != nil {
			return nil, err
		}
		return finish(buf, w, b)
	}
}

func finish(buf *bytes.Buffer, w io.WriteCloser, b []byte) ([]byte, error) {
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *codec) decode(b []byte) ([]byte, error) {
	if c.c == nil {
		return b, nil
	}
	var r io.ReadCloser
	var err error
	switch c.c.ID {
	case "zstd":
		return c.dec.DecodeAll(b, nil)
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(b))
	default:
		r, err = zlib.NewReader(bytes.NewReader(b))
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *codec) close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
