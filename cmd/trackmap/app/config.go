package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

type Config struct {
	InputFile     string
	OutputFile    string
	Format        ImageFormat
	Width         int
	Height        int
	FontPath      string
	NoAnnotations bool
	Verbose       bool
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Width:  1024,
		Height: 768,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat string
	flag.StringVar(&c.InputFile, "i", "", "Path to the record file (.csv or .csv.gz)")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.IntVar(&c.Width, "width", c.Width, "Track area width in pixels")
	flag.IntVar(&c.Height, "height", c.Height, "Track area height in pixels")
	flag.StringVar(&c.FontPath, "font", "", "Path to a TTF font for annotations")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable the information block")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if c.InputFile == "" {
		err = errors.New("input record file is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if c.Width < 320 || c.Height < 240 {
		err = fmt.Errorf("image size %dx%d is too small", c.Width, c.Height)
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
