package dal

import "fmt"

// ASCIIFont is the glyph cell size used for single byte characters.
type ASCIIFont int

const (
	Font8x16 ASCIIFont = iota
	Font12x24
	Font16x32
	Font24x48
)

// ExtFont is the glyph cell size used for multi byte (local) characters.
type ExtFont int

const (
	Font16x16 ExtFont = iota
	Font24x24
	Font32x32
	Font48x48
)

// Height returns the glyph height in dots.
func (f ASCIIFont) Height() int {
	switch f {
	case Font8x16:
		return 16
	case Font16x32:
		return 32
	case Font24x48:
		return 48
	default:
		return 24
	}
}

func (f ASCIIFont) String() string {
	switch f {
	case Font8x16:
		return "FONT_8_16"
	case Font12x24:
		return "FONT_12_24"
	case Font16x32:
		return "FONT_16_32"
	case Font24x48:
		return "FONT_24_48"
	default:
		return fmt.Sprintf("ASCIIFont(%d)", int(f))
	}
}

func (f ExtFont) String() string {
	switch f {
	case Font16x16:
		return "FONT_16_16"
	case Font24x24:
		return "FONT_24_24"
	case Font32x32:
		return "FONT_32_32"
	case Font48x48:
		return "FONT_48_48"
	default:
		return fmt.Sprintf("ExtFont(%d)", int(f))
	}
}
