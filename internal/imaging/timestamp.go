// Package imaging draws a visible timestamp onto images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"time"

	// Decoders for the source formats accepted by Stamp
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// DefaultLayout is the time format drawn onto images
	DefaultLayout = "2006-01-02 15:04:05"

	// DefaultQuality is the JPEG quality used for stamped output
	DefaultQuality = 90

	// DefaultMaxPixels bounds the decoded canvas of a source image
	DefaultMaxPixels = 50_000_000
)

// ErrDecode is returned when the input stream is not a decodable image
var ErrDecode = errors.New("failed to decode image")

// Stamper overlays the current time on the top-left corner of an image
type Stamper struct {
	Now     func() time.Time
	Layout  string
	Quality int
	Color   color.Color

	// MaxPixels is the largest width*height accepted for decoding
	MaxPixels int
}

// NewStamper creates a Stamper with default settings
func NewStamper() *Stamper {
	return &Stamper{
		Now:     time.Now,
		Layout:  DefaultLayout,
		Quality:   DefaultQuality,
		Color:     color.RGBA{B: 0xff, A: 0xff},
		MaxPixels: DefaultMaxPixels,
	}
}

// Stamp reads an image from r, draws the current time onto a copy and writes
// the result to w as JPEG. The output is always regenerated from r.
// Images whose header declares more than MaxPixels are rejected with ErrDecode
// before any pixel data is decoded.
func (s *Stamper) Stamp(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty %dx%d canvas", ErrDecode, cfg.Width, cfg.Height)
	}
	if limit := s.maxPixels(); int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, limit)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(s.color()),
		Face: face,
		Dot:  fixed.P(bounds.Min.X+2, bounds.Min.Y+face.Ascent+2),
	}
	drawer.DrawString(s.now().Format(s.layout()))

	if err := jpeg.Encode(w, dst, &jpeg.Options{Quality: s.quality()}); err != nil {
		return fmt.Errorf("failed to encode %s image as jpeg: %w", format, err)
	}

	return nil
}

func (s *Stamper) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Stamper) layout() string {
	if s.Layout == "" {
		return DefaultLayout
	}
	return s.Layout
}

func (s *Stamper) quality() int {
	if s.Quality < 1 || s.Quality > 100 {
		return DefaultQuality
	}
	return s.Quality
}

func (s *Stamper) maxPixels() int {
	if s.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return s.MaxPixels
}

func (s *Stamper) color() color.Color {
	if s.Color == nil {
		return color.RGBA{B: 0xff, A: 0xff}
	}
	return s.Color
}
