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

// Package hash computes content fingerprints.
package hash

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	gohash "hash"
	"hash/fnv"
	"math"

	"github.com/davecgh/go-spew/spew"
)

// Hash returns a hash key for the specified objects, hashed in order.
// Objects that implement fmt.Stringer contribute their string form.
func Hash(objects ...interface{}) string {
	h := New()
	for _, o := range objects {
		h.Add(o)
	}
	return h.Sum()
}

// Hasher accumulates objects into a 128-bit FNV-1a hash.
type Hasher struct {
	h gohash.Hash
	e *gob.Encoder
}

// New returns an empty Hasher.
func New() *Hasher {
	h := fnv.New128a()
	return &Hasher{h: h, e: gob.NewEncoder(h)}
}

// Add adds object to the hash. Objects that cannot be gob-encoded
// are printed with spew instead, with map keys sorted.
func (h *Hasher) Add(object interface{}) {
	if s, ok := object.(fmt.Stringer); ok {
		h.h.Write([]byte(s.String()))
		return
	}
	if err := h.e.Encode(object); err == nil {
		return
	}
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(h.h, "%#v", object)
}

// AddFloats adds the bit patterns of v to the hash without
// intermediate encoding. NaN payloads are normalized.
func (h *Hasher) AddFloats(v []float64) {
	var b [8]byte
	for _, x := range v {
		bits := math.Float64bits(x)
		if x != x {
			bits = math.Float64bits(math.NaN())
		}
		binary.LittleEndian.PutUint64(b[:], bits)
		h.h.Write(b[:])
	}
}

// Sum returns the hash as a hexadecimal string.
func (h *Hasher) Sum() string {
	return fmt.Sprintf("%x", h.h.Sum(nil))
}
