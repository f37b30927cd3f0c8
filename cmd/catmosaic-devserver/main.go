// catmosaic-devserver is a local image endpoint for running catmosaic end to
// end: it serves images on GET /cat and accepts batch uploads on POST /cat.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	imageDir   string
	palette    int
	saveDir    string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catmosaic-devserver",
		Short: "Local image endpoint for catmosaic",
		Long: `Serve random images on GET /cat and accept multipart uploads on POST /cat.

Without --images the server generates a fixed palette of solid-color JPEGs, so
clients see plenty of duplicates.

Examples:
  catmosaic-devserver --listen :8080
  catmosaic-devserver --images ./cats --save ./uploads`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8080", "listen address")
	rootCmd.Flags().StringVar(&imageDir, "images", "", "directory of images to serve")
	rootCmd.Flags().IntVar(&palette, "palette", 24, "number of synthetic images when --images is not set")
	rootCmd.Flags().StringVar(&saveDir, "save", "", "directory to save uploads in")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	return rootCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	s, err := newServer(serverOptions{ImageDir: imageDir, Palette: palette, SaveDir: saveDir})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listenAddr).Int("images", len(s.payloads)).Msg("devserver listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Int64("uploads", s.uploads.Load()).Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
