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
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geostack"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information and the commands that use it.
type Cfg struct {
	*viper.Viper

	Root, versionCmd, stackCmd, infoCmd, exportCmd, catalogCmd *cobra.Command

	log *logrus.Logger
}

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// InitializeConfig creates a new configuration with its own set of
// commands and flags.
func InitializeConfig() *Cfg {
	cfg := &Cfg{
		Viper: viper.New(),
		log:   logrus.New(),
	}

	cfg.Root = &cobra.Command{
		Use:   "geostack",
		Short: "Stack dated rasters into labeled arrays.",
		Long: `geostack stacks GeoTIFF files named "<date>, <description>.tiff" into a
single array with a date axis, and saves it as NetCDF or Zarr.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'GEOSTACK_var' where 'var' is the
name of the variable to be set. Path variables may contain environment variables.
Refer to https://github.com/spf13/viper for additional configuration information.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.setConfig(cmd)
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "version prints the version number of this version of geostack.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("geostack v%s\n", geostack.Version)
		},
		DisableAutoGenTag: true,
	}

	cfg.stackCmd = &cobra.Command{
		Use:   "stack",
		Short: "Stack the rasters in a directory.",
		Long: `stack lists the files in InputDir ending in Suffix, labels each one
with the date at the start of its name, stacks them along a new axis and
saves the result to OutputFile. If any name cannot be parsed or any file
has a different shape, nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.runStack(cmd.Context())
		},
		DisableAutoGenTag: true,
	}

	cfg.infoCmd = &cobra.Command{
		Use:   "info <path>",
		Short: "Describe a saved stack.",
		Long: `info loads a NetCDF or Zarr stack and prints its dimensions, labels,
attributes and checksum.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.info(cmd, args[0])
		},
		DisableAutoGenTag: true,
	}

	cfg.exportCmd = &cobra.Command{
		Use:   "export <path>",
		Short: "Export one layer of a saved stack as a GeoTIFF.",
		Long: `export loads a NetCDF or Zarr stack and writes the layer at position
Index of its stack axis to OutputFile as a GeoTIFF.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.export(cmd.Context(), args[0])
		},
		DisableAutoGenTag: true,
	}

	cfg.catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "List recorded runs.",
		Long:  `catalog prints the runs recorded in the Catalog database, oldest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.listCatalog(cmd)
		},
		DisableAutoGenTag: true,
	}

	// options are the configuration options available to geostack.
	options := []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages: debug, info,
              warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "InputDir",
			usage: `
              InputDir is the directory or blob prefix (for example
              gs://bucket/scenes) holding the rasters to stack.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Suffix",
			usage: `
              Suffix selects the files in InputDir to stack.`,
			defaultVal: ".tiff",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Dim",
			usage: `
              Dim is the name of the new stack axis.`,
			defaultVal: "date",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Labels",
			usage: `
              Labels chooses how files are labeled along the stack axis:
              "date" parses the date at the start of each file name and
              "index" numbers the files from 1 in input order.`,
			defaultVal: "date",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "DateLayouts",
			usage: `
              DateLayouts are the date formats tried when parsing file names,
              written as Go time layouts.`,
			defaultVal: geostack.DefaultDateLayouts,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Delimiter",
			usage: `
              Delimiter separates the date from the rest of each file name.`,
			defaultVal: ",",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Sort",
			usage: `
              Sort orders the stack by label instead of by file name.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "SqueezeBands",
			usage: `
              SqueezeBands drops the band axis when every file has one band.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Lazy",
			usage: `
              Lazy reads only file headers up front and streams pixel data
              to the output one file at a time.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of files read and written concurrently.`,
			shorthand:  "w",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the output location. For the stack command the
              extension chooses the format: .nc for NetCDF or .zarr for Zarr.
              Blob locations such as s3://bucket/stack.zarr are allowed.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags(), cfg.exportCmd.Flags()},
		},
		{
			name: "Format",
			usage: `
              Format overrides the output format: auto, netcdf or zarr.`,
			defaultVal: "auto",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Overwrite",
			usage: `
              Overwrite allows an existing OutputFile to be replaced.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags(), cfg.exportCmd.Flags()},
		},
		{
			name: "Compressor",
			usage: `
              Compressor is the Zarr chunk codec: zstd, gzip, zlib or none.`,
			defaultVal: "zstd",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags()},
		},
		{
			name: "Catalog",
			usage: `
              Catalog is the path of a SQLite database recording each saved
              stack. If empty, runs are not recorded.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.stackCmd.Flags(), cfg.catalogCmd.Flags()},
		},
		{
			name: "Variable",
			usage: `
              Variable is the name of the array to read from a saved stack.
              If empty, the only data array is read.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.infoCmd.Flags(), cfg.exportCmd.Flags()},
		},
		{
			name: "Index",
			usage: `
              Index is the position along the stack axis of the layer to export.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{cfg.exportCmd.Flags()},
		},
	}

	// Set the prefix for configuration environment variables.
	cfg.SetEnvPrefix("GEOSTACK")
	cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}

	// Link the commands together.
	cfg.Root.AddCommand(cfg.versionCmd)
	cfg.Root.AddCommand(cfg.stackCmd)
	cfg.Root.AddCommand(cfg.infoCmd)
	cfg.Root.AddCommand(cfg.exportCmd)
	cfg.Root.AddCommand(cfg.catalogCmd)
	return cfg
}
