package app

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
)

const (
	dpi     float64 = 72
	size    float64 = 14
	spacing float64 = 1.2
)

// Annotator draws the information block under the track area
type Annotator struct {
	context *freetype.Context
}

// NewAnnotator creates an annotator using the TTF font at fontPath
func NewAnnotator(fontPath string) (*Annotator, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.Black)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

// Annotate draws the track summary into the bottom border
func (a *Annotator) Annotate(img *image.RGBA, track *Track) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	duration := track.End().Sub(track.Start()).Round(time.Second)
	distance, suffix := humanize.ComputeSI(track.Distance())

	lines := []string{
		"Start: " + track.Start().Format(time.DateTime) + " UTC",
		"End:   " + track.End().Format(time.DateTime) + " UTC",
		fmt.Sprintf("Duration: %s, distance: %0.2f %sm", duration, distance, suffix),
		fmt.Sprintf("Points: %d, max speed: %0.1f m/s", len(track.Points), track.MaxSpeed),
	}

	imgSize := img.Bounds().Size()
	top := imgSize.Y - defaultBottomBorder + 20

	pt := freetype.Pt(defaultLeftBorder, top)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return fmt.Errorf("drawing annotation: %w", err)
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	return nil
}
