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
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spatialmodel/geostack/cloud"
)

// ListFiles returns the files directly inside dir whose names end in
// suffix, sorted lexically. dir may be a local directory or a blob
// path such as "gs://bucket/prefix".
//
// A local dir that does not exist results in an error matching
// ErrFileNotFound. A directory with no matching files results in an
// empty list; Stack and OpenLazy reject empty lists with ErrEmptyInput.
// Object stores have no directories, so a blob prefix without
// matching objects is treated as empty rather than missing.
func ListFiles(ctx context.Context, dir, suffix string) ([]string, error) {
	if cloud.IsBlob(dir) {
		files, err := cloud.List(ctx, dir, suffix)
		return files, errors.Wrapf(err, "geostack: listing %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "listing %s", dir)
		}
		return nil, errors.Wrapf(err, "geostack: listing %s", dir)
	}
	var o []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		o = append(o, filepath.Join(dir, e.Name()))
	}
	sort.Strings(o)
	return o, nil
}

// baseName returns the last element of a local or blob path.
func baseName(p string) string {
	if cloud.IsBlob(p) {
		return path.Base(p)
	}
	return filepath.Base(p)
}

// Labeler assigns a coordinate label to each input file.
type Labeler interface {
	// Label returns the label of the file at position i of the input.
	Label(i int, file string) (float64, error)

	// Units returns the units of the labels.
	Units() string
}

// DefaultDateLayouts are the date formats tried by DateParser, in order.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"20060102",
	"2006/01/02",
}

// DateParser extracts dates from file names of the form
// "<date><Delimiter><free text>.<ext>".
type DateParser struct {
	// Delimiter separates the date from the rest of the name.
	// The default is ",".
	Delimiter string

	// Layouts are time.Parse layouts to try. The default is
	// DefaultDateLayouts.
	Layouts []string
}

// Parse returns the date encoded in the base name of file, in UTC.
// The extension is removed, and the name is split at the first
// Delimiter. Names without the delimiter are parsed whole.
func (p DateParser) Parse(file string) (time.Time, error) {
	delim, layouts := p.Delimiter, p.Layouts
	if delim == "" {
		delim = ","
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	name := baseName(file)
	token := strings.TrimSuffix(name, path.Ext(name))
	if i := strings.Index(token, delim); i >= 0 {
		token = token[:i]
	}
	token = strings.TrimSpace(token)
	var err error
	for _, l := range layouts {
		var t time.Time
		if t, err = time.ParseInLocation(l, token, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &DateParseError{Name: name, Token: token, Err: err}
}

// Label implements Labeler.
func (p DateParser) Label(_ int, file string) (float64, error) {
	t, err := p.Parse(file)
	if err != nil {
		return 0, err
	}
	return timeValue(t), nil
}

// Units implements Labeler.
func (p DateParser) Units() string { return TimeUnits }

// IndexLabeler labels files with their 1-based position, for stacking
// separate bands of one scene.
type IndexLabeler struct{}

// Label implements Labeler.
func (IndexLabeler) Label(i int, _ string) (float64, error) { return float64(i + 1), nil }

// Units implements Labeler.
func (IndexLabeler) Units() string { return "" }

// Labels labels every file, returning the first failure.
func Labels(dim string, files []string, l Labeler) (Axis, error) {
	ax := Axis{Name: dim, Units: l.Units(), Values: make([]float64, len(files))}
	for i, f := range files {
		v, err := l.Label(i, f)
		if err != nil {
			return Axis{}, err
		}
		ax.Values[i] = v
	}
	return ax, nil
}
