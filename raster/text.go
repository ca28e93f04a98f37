package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Layout constants for rasterised text.
const (
	DefaultWidth    = 384
	DefaultFontSize = 24
	lineGap         = 4
	sideMargin      = 10
)

// Alignment of rasterised lines.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TextOptions controls RenderText.
type TextOptions struct {
	// FontSize is the glyph size in dots. Zero means DefaultFontSize.
	FontSize int
	// Width is the bitmap width in dots. Zero means DefaultWidth.
	Width     int
	Alignment Alignment
	// FontPath points at a TTF/OTF file. Empty uses the built-in Go font,
	// which has no Arabic glyphs, so right-to-left text needs one.
	FontPath string
}

// ErrMissingGlyphs is returned when the font cannot draw the right-to-left
// characters of the text.
var ErrMissingGlyphs = errors.New("font has no glyphs for the text")

var (
	fontCacheMu sync.Mutex
	fontCache   = map[string]*opentype.Font{}
)

func loadFont(path string) (*opentype.Font, error) {
	fontCacheMu.Lock()
	defer fontCacheMu.Unlock()

	if f, ok := fontCache[path]; ok {
		return f, nil
	}

	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
		data = b
	}

	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	fontCache[path] = f
	return f, nil
}

// checkCoverage fails when f lacks a glyph for any right-to-left rune of
// text. Such runes would be drawn as the notdef box.
func checkCoverage(f *opentype.Font, text string) error {
	var buf sfnt.Buffer
	for _, r := range text {
		if !IsRTLRune(r) {
			continue
		}
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil {
			return fmt.Errorf("look up glyph %U: %w", r, err)
		}
		if idx == 0 {
			return fmt.Errorf("%w: %U", ErrMissingGlyphs, r)
		}
	}
	return nil
}

// RenderText draws text on a white bitmap, one line per row of
// FontSize+4 dots, with the first baseline at FontSize. Left aligned lines
// start 10 dots in, right aligned lines end 10 dots before the edge and
// centred lines are centred on the bitmap. Lines containing right-to-left
// script are drawn in visual order. The font must cover every
// right-to-left character, otherwise ErrMissingGlyphs is returned.
func RenderText(text string, opts TextOptions) (*image.Gray, error) {
	size := opts.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}

	f, err := loadFont(opts.FontPath)
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(f, text); err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	lines := strings.Split(text, "\n")
	lineHeight := size + lineGap
	img := image.NewGray(image.Rect(0, 0, width, len(lines)*lineHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	y := size
	for _, line := range lines {
		visual := VisualOrder(line)
		advance := d.MeasureString(visual).Round()

		x := sideMargin
		switch opts.Alignment {
		case AlignCenter:
			x = (width - advance) / 2
		case AlignRight:
			x = width - sideMargin - advance
		}

		d.Dot = fixed.P(x, y)
		d.DrawString(visual)
		y += lineHeight
	}

	return img, nil
}
