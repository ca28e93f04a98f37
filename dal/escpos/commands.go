package escpos

import (
	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/raster"
)

// ESC/POS command bytes
const (
	dle byte = 0x10
	eot byte = 0x04
	esc byte = 0x1B
	gs  byte = 0x1D
)

func cmdInitialize() []byte {
	return []byte{esc, '@'}
}

func cmdCodePage(table byte) []byte {
	return []byte{esc, 't', table}
}

// cmdSelectFont selects font A (12x24) or font B (9x17, used for 8x16).
func cmdSelectFont(fontB bool) []byte {
	return []byte{esc, 'M', boolToByte(fontB)}
}

// cmdCharSize sets the width and height multipliers, 1 to 8 each.
func cmdCharSize(width, height uint8) []byte {
	width = clampMultiplier(width)
	height = clampMultiplier(height)
	return []byte{gs, '!', ((width - 1) << 4) | (height - 1)}
}

func clampMultiplier(m uint8) uint8 {
	if m < 1 {
		return 1
	}
	if m > 8 {
		return 8
	}
	return m
}

func cmdLeftMargin(dots int) []byte {
	if dots < 0 {
		dots = 0
	}
	if dots > 0xFFFF {
		dots = 0xFFFF
	}
	return []byte{gs, 'L', byte(dots), byte(dots >> 8)}
}

func cmdReverse(on bool) []byte {
	return []byte{gs, 'B', boolToByte(on)}
}

func cmdCharSpacing(dots byte) []byte {
	return []byte{esc, ' ', dots}
}

// cmdLineSpacing sets the line spacing in dots; 0 restores the default.
func cmdLineSpacing(dots byte) []byte {
	if dots == 0 {
		return []byte{esc, '2'}
	}
	return []byte{esc, '3', dots}
}

// cmdPrintDensity selects the print density (GS ( K, fn 49). Gray levels
// 1 to 4 map onto densities -2, 0, 2 and 4.
func cmdPrintDensity(level int) []byte {
	if level < 1 {
		level = 1
	}
	if level > 4 {
		level = 4
	}
	m := int8((level - 2) * 2)
	return []byte{gs, '(', 'K', 2, 0, 49, byte(m)}
}

// cmdFeed feeds the paper by dots, split into ESC J steps of at most 255.
func cmdFeed(dots int) []byte {
	var out []byte
	for dots > 0 {
		n := dots
		if n > 255 {
			n = 255
		}
		out = append(out, esc, 'J', byte(n))
		dots -= n
	}
	return out
}

// cmdCut cuts the paper: mode 0 is a full cut, anything else a partial cut.
// The printer feeds to the cutting position first.
func cmdCut(mode int) []byte {
	if mode == 0 {
		return []byte{gs, 'V', 'A', 0x00}
	}
	return []byte{gs, 'V', 'B', 0x00}
}

// cmdRasterImage wraps packed 1-bit data in a GS v 0 raster command.
func cmdRasterImage(m *raster.Monochrome) []byte {
	xL, xH := byte(m.BytesPerRow), byte(m.BytesPerRow>>8)
	yL, yH := byte(m.Height), byte(m.Height>>8)
	out := make([]byte, 0, 8+len(m.Data))
	out = append(out, gs, 'v', '0', 0, xL, xH, yL, yH)
	return append(out, m.Data...)
}

// cmdStatus is the real-time status transmission request for n.
func cmdStatus(n byte) []byte {
	return []byte{dle, eot, n}
}

// fontMetrics maps a vendor font to the ESC/POS font and size multiplier
// that comes closest to it.
func fontMetrics(f dal.ASCIIFont) (fontB bool, mul uint8) {
	switch f {
	case dal.Font8x16:
		return true, 1
	case dal.Font16x32:
		return true, 2
	case dal.Font24x48:
		return false, 2
	default:
		return false, 1
	}
}

func boolToByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
