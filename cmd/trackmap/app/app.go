package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	track, err := ReadTrack(config.InputFile)
	if err != nil {
		return err
	}

	if config.Verbose {
		logger.Info("track loaded",
			slog.Int("points", len(track.Points)),
			slog.String("start", track.Start().Format(time.DateTime)),
			slog.String("end", track.End().Format(time.DateTime)))
	}

	renderer := NewTrackRenderer(RenderConfig{
		Width:  config.Width,
		Height: config.Height,
	})
	img := renderer.Render(track)

	if !config.NoAnnotations {
		if config.FontPath == "" {
			logger.Warn("no font provided, skipping annotations")
		} else {
			ann, err := NewAnnotator(config.FontPath)
			if err != nil {
				return err
			}
			if err = ann.Annotate(img, track); err != nil {
				return err
			}
		}
	}

	if err = writeImage(img, config.OutputFile, config.Format); err != nil {
		return err
	}

	logger.Info("track image written", slog.String("path", config.OutputFile))
	return nil
}

func writeImage(img *image.RGBA, path string, format ImageFormat) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	switch format {
	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(out, img)
	}
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	return nil
}
