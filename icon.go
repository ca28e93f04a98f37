package main

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/vector"
)

const iconSize = 32

// Tray icons: a coloured disc with a receipt on it.
var (
	iconData          = renderIcon(color.RGBA{0x6e, 0x76, 0x81, 0xff})
	iconDataConnected = renderIcon(color.RGBA{0x2d, 0xa4, 0x4e, 0xff})
	iconDataError     = renderIcon(color.RGBA{0xcf, 0x22, 0x2e, 0xff})
	iconDataStopped   = renderIcon(color.RGBA{0xbf, 0x87, 0x00, 0xff})
)

func renderIcon(bg color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))

	disc := vector.NewRasterizer(iconSize, iconSize)
	circle(disc, iconSize/2, iconSize/2, iconSize/2-1)
	disc.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{})

	// Receipt with a zigzag tear-off edge.
	paper := vector.NewRasterizer(iconSize, iconSize)
	paper.MoveTo(10, 7)
	paper.LineTo(22, 7)
	paper.LineTo(22, 23)
	for x := float32(22); x > 10; x -= 3 {
		paper.LineTo(x-1.5, 25)
		paper.LineTo(x-3, 23)
	}
	paper.ClosePath()
	paper.Draw(img, img.Bounds(), image.White, image.Point{})

	for _, y := range []int{11, 15, 19} {
		draw.Draw(img, image.Rect(13, y, 19, y+1), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// circle adds a circle path made of four cubic curves.
func circle(z *vector.Rasterizer, cx, cy, r float32) {
	const k = 0.5523
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k*r, cx+k*r, cy+r, cx, cy+r)
	z.CubeTo(cx-k*r, cy+r, cx-r, cy+k*r, cx-r, cy)
	z.CubeTo(cx-r, cy-k*r, cx-k*r, cy-r, cx, cy-r)
	z.CubeTo(cx+k*r, cy-r, cx+r, cy-k*r, cx+r, cy)
	z.ClosePath()
}
