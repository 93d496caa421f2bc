package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/lumicell/foci/internal/find"
	"github.com/lumicell/foci/internal/imgconv"
	"github.com/lumicell/foci/internal/render"
	"github.com/lumicell/foci/internal/threshold"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "foci-find: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "YAML parameter file (defaults apply when empty)")
		outPath     = flag.String("out", "", "write the result JSON to this file instead of stdout")
		maskPath    = flag.String("mask", "", "write the label mask as 16-bit PNG (one file per plane)")
		overlayPath = flag.String("overlay", "", "write a colour overlay PNG (one file per plane)")
		blurSigma   = flag.Float64("blur", 0, "Gaussian pre-blur sigma for the search image")
		threshName  = flag.String("threshold", "otsu", "auto-threshold method: otsu, mean, triangle, minerror")
		logLevel    = flag.String("log", "info", "log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "print version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("foci-find %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return nil
	}
	if flag.NArg() < 1 {
		usage()
		return errors.New("no input image given")
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	cfg := find.DefaultConfig()
	if *configPath != "" {
		cfg, err = find.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *maskPath != "" || *overlayPath != "" {
		cfg.Output.Mask = true
	}

	img, err := imgconv.LoadStack(flag.Args())
	if err != nil {
		return err
	}
	logger.Info().
		Int("width", img.Width).Int("height", img.Height).Int("depth", img.Depth).
		Msg("loaded image")

	thresholdFn, err := threshold.ByName(*threshName)
	if err != nil {
		return err
	}

	opts := []find.Option[uint16]{
		find.WithLogger[uint16](logger),
		find.WithThresholdFunc[uint16](thresholdFn),
	}
	if *blurSigma > 0 {
		opts = append(opts, find.WithSearchImage[uint16](imgconv.Blur(img, *blurSigma)))
	}

	finder, err := find.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := finder.FindPeaks(ctx, img)
	if err != nil {
		if res == nil {
			return err
		}
		// Capacity failures still carry the peaks and statistics.
		logger.Warn().Err(err).Msg("mask rendering failed, writing peaks only")
	}

	if err := writeResult(res, *outPath); err != nil {
		return err
	}

	if res.Mask != nil {
		if *maskPath != "" {
			if err := writePlanes(*maskPath, res.Mask.Depth, func(z int) (image.Image, error) {
				return render.Plane(res.Mask, z)
			}); err != nil {
				return err
			}
		}
		if *overlayPath != "" {
			if err := writePlanes(*overlayPath, res.Mask.Depth, func(z int) (image.Image, error) {
				return render.Overlay(img, res.Mask, z, 0.5)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeResult(res *find.Result, path string) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// writePlanes saves one image per z plane, appending a plane suffix to the
// file name for stacks.
func writePlanes(path string, depth int, plane func(z int) (image.Image, error)) error {
	for z := 0; z < depth; z++ {
		name := path
		if depth > 1 {
			ext := filepath.Ext(path)
			name = fmt.Sprintf("%s_z%03d%s", strings.TrimSuffix(path, ext), z, ext)
		}
		img, err := plane(z)
		if err != nil {
			return err
		}
		if err := imaging.Save(img, name); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "foci-find - watershed peak finder for 2D/3D scalar images")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: foci-find [options] image.png [plane2.png ...]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Multiple input files stack into the z planes of a 3D image.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
}
