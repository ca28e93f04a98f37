package pos

import (
	"strings"
	"unicode/utf8"

	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/raster"
)

// Text alignment values accepted in print options.
const (
	AlignLeft   = 0
	AlignCenter = 1
	AlignRight  = 2
)

// Font size names accepted in print options.
const (
	FontSizeSmall      = "small"
	FontSizeMedium     = "medium"
	FontSizeLarge      = "large"
	FontSizeExtraLarge = "extra_large"
)

// fontsFor maps a size name to printer glyph cells. Unknown names fall
// back to medium.
func fontsFor(size string) (dal.ASCIIFont, dal.ExtFont) {
	switch size {
	case FontSizeSmall:
		return dal.Font8x16, dal.Font16x16
	case FontSizeLarge:
		return dal.Font16x32, dal.Font32x32
	case FontSizeExtraLarge:
		return dal.Font24x48, dal.Font48x48
	default:
		return dal.Font12x24, dal.Font24x24
	}
}

// rasterFontSize maps a size name to the glyph size used when rasterising.
func rasterFontSize(size string) int {
	switch size {
	case FontSizeSmall:
		return 16
	case FontSizeLarge:
		return 32
	case FontSizeExtraLarge:
		return 48
	default:
		return 24
	}
}

func rasterAlignment(alignment int) raster.Alignment {
	switch alignment {
	case AlignCenter:
		return raster.AlignCenter
	case AlignRight:
		return raster.AlignRight
	default:
		return raster.AlignLeft
	}
}

// FormatAlignment pads each line of text with leading spaces so it appears
// centred or right aligned on a printer that is width characters wide.
// Left alignment and unknown values return text unchanged, as do lines that
// already fill the width. Blank lines are padded like any other line so the
// printer still advances by a full row. A trailing newline is kept only if
// text had one.
func FormatAlignment(text string, alignment, width int) string {
	if alignment != AlignCenter && alignment != AlignRight {
		return text
	}

	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	for i, line := range lines {
		n := utf8.RuneCountInString(line)
		if n >= width || (i == last && i > 0 && n == 0) {
			continue
		}
		pad := width - n
		if alignment == AlignCenter {
			pad /= 2
		}
		lines[i] = strings.Repeat(" ", pad) + line
	}
	return strings.Join(lines, "\n")
}
