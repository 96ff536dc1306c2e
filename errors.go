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
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrFileNotFound is returned when an input directory or file does not exist.
	ErrFileNotFound = errors.New("geostack: file not found")

	// ErrDateParse is matched by errors for file names without a valid date.
	ErrDateParse = errors.New("geostack: cannot parse date")

	// ErrShapeMismatch is matched by errors for inputs that cannot be stacked.
	ErrShapeMismatch = errors.New("geostack: shape mismatch")

	// ErrWriteConflict is returned when the output already exists and
	// overwriting was not requested.
	ErrWriteConflict = errors.New("geostack: output already exists")

	// ErrEmptyInput is returned when there are no files to stack.
	ErrEmptyInput = errors.New("geostack: no input files")

	// ErrUnknownFormat is returned for output paths with an unrecognized format.
	ErrUnknownFormat = errors.New("geostack: unknown storage format")
)

// DateParseError reports a file name whose date token could not be parsed.
type DateParseError struct {
	Name  string // file base name
	Token string // the text that was parsed
	Err   error  // the last parse error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("geostack: cannot parse date %q in file name %q: %v", e.Token, e.Name, e.Err)
}

// Is reports whether target is ErrDateParse.
func (e *DateParseError) Is(target error) bool { return target == ErrDateParse }

func (e *DateParseError) Unwrap() error { return e.Err }

// ShapeMismatchError reports an input that does not match the
// dimensions of the first input.
type ShapeMismatchError struct {
	Source string
	Want   string
	Have   string
}

func (e *ShapeMismatchError) Error() string {
	src := e.Source
	if src == "" {
		src = "array"
	}
	return fmt.Sprintf("geostack: %s has %s, expected %s", src, e.Have, e.Want)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }
