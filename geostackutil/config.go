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

package geostackutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack"
	"github.com/spatialmodel/geostack/cloud"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func (cfg *Cfg) setConfig(cmd *cobra.Command) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := cfg.ReadInConfig(); err != nil {
			return errors.Wrap(err, "geostack: problem reading configuration file")
		}
	}
	level, err := logrus.ParseLevel(cfg.GetString("LogLevel"))
	if err != nil {
		return errors.Wrap(err, "geostack: invalid LogLevel")
	}
	cfg.log.SetLevel(level)
	cfg.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cmd != nil {
		cfg.log.SetOutput(cmd.ErrOrStderr())
	}
	return nil
}

// Log returns the logger used by the commands.
func (cfg *Cfg) Log() *logrus.Logger { return cfg.log }

// checkInputDir makes sure that the input directory is specified and
// expands any environment variables.
func checkInputDir(d string) (string, error) {
	if d == "" {
		return "", errors.New(`you need to specify an input directory configuration variable (for example: InputDir="scenes/")`)
	}
	return os.ExpandEnv(d), nil
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", errors.New(`you need to specify an output file configuration variable (for example: OutputFile="stack.nc")`)
	}
	f = os.ExpandEnv(f)
	if cloud.IsBlob(f) {
		b, err := cloud.Open(context.TODO(), f)
		if err != nil {
			return f, errors.Wrap(err, "geostack: error when checking OutputFile location")
		}
		return f, b.Close()
	}
	outdir := filepath.Dir(strings.TrimRight(f, "/"))
	if _, err := os.Stat(outdir); err != nil {
		return f, errors.Wrap(err, "geostack: the OutputFile directory doesn't exist")
	}
	return f, nil
}

// labeler returns the file labeler chosen by the Labels option.
func (cfg *Cfg) labeler() (geostack.Labeler, error) {
	switch l := strings.ToLower(cfg.GetString("Labels")); l {
	case "date":
		layouts, err := cast.ToStringSliceE(cfg.Get("DateLayouts"))
		if err != nil {
			return nil, errors.Wrap(err, "geostack: reading 'DateLayouts'")
		}
		return geostack.DateParser{
			Delimiter: cfg.GetString("Delimiter"),
			Layouts:   layouts,
		}, nil
	case "index":
		return geostack.IndexLabeler{}, nil
	default:
		return nil, errors.Errorf(`the Labels variable needs to be set to either "date" or "index", but is currently set to %q`, l)
	}
}
