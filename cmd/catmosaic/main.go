// catmosaic fetches images from an HTTP endpoint, deduplicates them by content
// and uploads random batches back as zip archives or mosaic collages.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// run flags
	serverURL   string
	fetchers    int
	builders    int
	runMode     string
	opsListen   string
	enableTrace bool
	serviceRun  string

	// compose flags
	composeOutput string
	composeMode   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catmosaic",
		Short: "catmosaic - image ingest cache and mosaic builder",
		Long: `catmosaic pulls images from an HTTP endpoint, keeps one copy of each distinct
payload in memory and continuously uploads random batches of them back, either
as a zip archive of JPEGs or as a single PNG mosaic.

Examples:
  # Ingest from a local endpoint and upload archives
  catmosaic run --server http://127.0.0.1:8080

  # Eight fetchers, two mosaic builders, metrics on :9102
  catmosaic run -f 8 -b 2 -m mosaic --ops-listen :9102

  # Build a mosaic from local files
  catmosaic compose a.jpg b.jpg c.png d.webp -o out.png`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newComposeCmd())
	rootCmd.AddCommand(newServiceCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "catmosaic %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// setupLogging configures the global logger. Extra writers receive the raw
// JSON lines alongside stderr.
func setupLogging(extra ...io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if strings.EqualFold(logFormat, "json") {
		out = os.Stderr
	}
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
