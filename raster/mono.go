package raster

import "image"

// DefaultThreshold is the gray level below which a pixel prints black.
const DefaultThreshold = 128

// Monochrome is a packed 1-bit image, row-major, most significant bit first.
// A set bit is a black dot. Each row is padded to a whole byte.
type Monochrome struct {
	Data        []byte
	Width       int
	Height      int
	BytesPerRow int
}

// PackMonochrome converts img to 1-bit raster data. The gray level of a pixel
// is the plain average (r+g+b)/3 after compositing over white; pixels darker
// than threshold become black. A threshold <= 0 uses DefaultThreshold.
func PackMonochrome(img image.Image, threshold int) *Monochrome {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rowBytes := (w + 7) / 8
	out := &Monochrome{
		Data:        make([]byte, rowBytes*h),
		Width:       w,
		Height:      h,
		BytesPerRow: rowBytes,
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if grayAt(img, b.Min.X+x, b.Min.Y+y) < threshold {
				out.Data[y*rowBytes+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}
	return out
}

// grayAt returns the 8-bit gray level of a pixel composited over white.
func grayAt(img image.Image, x, y int) int {
	r, g, bl, a := img.At(x, y).RGBA()
	// Premultiplied components: add the white that shows through.
	white := 0xFFFF - a
	r8 := int((r + white) >> 8)
	g8 := int((g + white) >> 8)
	b8 := int((bl + white) >> 8)
	return (r8 + g8 + b8) / 3
}

// Black reports whether the dot at (x, y) is set.
func (m *Monochrome) Black(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Data[y*m.BytesPerRow+x/8]&(0x80>>uint(x%8)) != 0
}
