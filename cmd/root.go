package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orthotools/tilecut/internal/logging"
	"github.com/orthotools/tilecut/internal/tiler"
	"github.com/orthotools/tilecut/pkg/geotiff"
)

// version is overridden at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilecut <input-image> <tile-size> <save-dir> <project-name>",
	Short: "Cut a georeferenced raster into fixed-size PNG tiles",
	Long: `tilecut splits a georeferenced raster image (GeoTIFF) into square PNG
tiles of a fixed physical size, preserving transparency where present.

The tile size is given in the raster's map units (typically meters) and is
converted to pixels using the resolution stored in the image's affine
transform. Tiles that are entirely empty are skipped but still consume an
index, and tiles on the right and bottom edges are clipped to the image
bounds. Output files are named <project-name>_tile_<index>.png.

Examples:
  # 100x100 meter tiles from an orthophoto
  tilecut survey.tif 100 ./tiles survey2024

  # keep the source channel order on 4-band images
  tilecut survey.tif 100 ./tiles survey2024 --swap-rb-4=false

  # write a .pgw world file next to every tile
  tilecut survey.tif 100 ./tiles survey2024 -w`,
	Args:    cobra.ExactArgs(4),
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	RunE: runSplit,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tilecut.yaml)")

	// Channel order options
	rootCmd.Flags().Bool("swap-rb-4", true, "swap channels 0 and 2 when writing 4-band sources")
	rootCmd.Flags().Bool("swap-rb-3", false, "swap channels 0 and 2 when writing 3-band sources")

	// Output options
	rootCmd.Flags().BoolP("worldfile", "w", false, "write a .pgw world file next to every tile")

	// Logging options
	rootCmd.Flags().String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().Bool("log-json", false, "write logs as JSON")
	rootCmd.Flags().String("log-file", "", "write logs to this file (rotated) instead of stderr")

	// Bind flags to viper for root command
	viper.BindPFlag("swap-rb-4", rootCmd.Flags().Lookup("swap-rb-4"))
	viper.BindPFlag("swap-rb-3", rootCmd.Flags().Lookup("swap-rb-3"))
	viper.BindPFlag("worldfile", rootCmd.Flags().Lookup("worldfile"))
	viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log-json", rootCmd.Flags().Lookup("log-json"))
	viper.BindPFlag("log-file", rootCmd.Flags().Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tilecut" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tilecut")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setupLogging installs the default slog logger, tagged with a per-run id.
func setupLogging(stderr io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(viper.GetString("log-level")))); err != nil {
		level = slog.LevelInfo
	}
	w := stderr
	if path := viper.GetString("log-file"); path != "" {
		w = logging.Rotating(path)
	}
	lg := logging.Logger(w, viper.GetBool("log-json"), level)
	slog.SetDefault(lg.With(slog.Group("tilecut",
		slog.String("run", uuid.NewString()),
		slog.String("version", version),
	)))
}

func runSplit(cmd *cobra.Command, args []string) error {
	size, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("tile size must be a number, got %q", args[1])
	}
	if size <= 0 {
		return fmt.Errorf("tile size must be positive, got %g", size)
	}

	opts := tiler.Options{
		TileSize:   size,
		OutDir:     args[2],
		Project:    args[3],
		SwapRB4:    viper.GetBool("swap-rb-4"),
		SwapRB3:    viper.GetBool("swap-rb-3"),
		WorldFiles: viper.GetBool("worldfile"),
	}

	t := tiler.New(opts, openGeoTIFF, tiler.NewPNGWriter(), cmd.OutOrStdout())
	return t.Split(args[0])
}

// openGeoTIFF adapts geotiff.Open to the engine's reader interface.
func openGeoTIFF(path string) (tiler.RasterReader, error) {
	return geotiff.Open(path)
}
