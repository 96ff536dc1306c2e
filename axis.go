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
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TimeUnits are the CF units of time axes. Values are Unix seconds.
const TimeUnits = "seconds since 1970-01-01 00:00:00"

// Axis is a named array dimension with one coordinate label per index.
type Axis struct {
	Name   string
	Units  string
	Values []float64
}

// TimeAxis returns an axis labeled with the given times.
func TimeAxis(name string, times ...time.Time) Axis {
	v := make([]float64, len(times))
	for i, t := range times {
		v[i] = timeValue(t)
	}
	return Axis{Name: name, Units: TimeUnits, Values: v}
}

func timeValue(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Len returns the number of labels.
func (a Axis) Len() int { return len(a.Values) }

// IsTime reports whether the axis holds times.
func (a Axis) IsTime() bool { return a.Units == TimeUnits }

// Times returns the labels of a time axis.
func (a Axis) Times() ([]time.Time, error) {
	if !a.IsTime() {
		return nil, errors.Errorf("geostack: axis %s is not a time axis (units %q)", a.Name, a.Units)
	}
	o := make([]time.Time, len(a.Values))
	for i, v := range a.Values {
		sec, frac := math.Modf(v)
		o[i] = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	}
	return o, nil
}

// Label returns the printable label at index i.
func (a Axis) Label(i int) string {
	if a.IsTime() {
		ts, _ := a.Times()
		t := ts[i]
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	}
	return strconv.FormatFloat(a.Values[i], 'g', -1, 64)
}

// Labels returns all printable labels.
func (a Axis) Labels() []string {
	o := make([]string, a.Len())
	for i := range o {
		o[i] = a.Label(i)
	}
	return o
}

// Equal reports whether a and b have the same name, units and labels.
func (a Axis) Equal(b Axis) bool {
	if a.Name != b.Name || a.Units != b.Units || len(a.Values) != len(b.Values) {
		return false
	}
	for i, v := range a.Values {
		if !sameFloat(v, b.Values[i]) {
			return false
		}
	}
	return true
}

// aligned is like Equal but allows small coordinate differences.
func (a Axis) aligned(b Axis) bool {
	if a.Name != b.Name || a.Units != b.Units || len(a.Values) != len(b.Values) {
		return false
	}
	for i, v := range a.Values {
		w := b.Values[i]
		if sameFloat(v, w) {
			continue
		}
		if math.Abs(v-w) > 1e-9*math.Max(math.Abs(v), math.Abs(w)) {
			return false
		}
	}
	return true
}

func (a Axis) copy() Axis {
	a.Values = append([]float64(nil), a.Values...)
	return a
}

// describe summarizes an axis for error messages.
func (a Axis) describe() string {
	var b strings.Builder
	b.WriteString(a.Name)
	b.WriteString("[")
	b.WriteString(strconv.Itoa(a.Len()))
	if a.Len() > 0 {
		b.WriteString(": ")
		b.WriteString(a.Label(0))
		if a.Len() > 1 {
			b.WriteString(" … ")
			b.WriteString(a.Label(a.Len() - 1))
		}
	}
	b.WriteString("]")
	return b.String()
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}
