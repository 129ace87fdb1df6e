package main

import (
	"image/color"
)

var colors = []color.NRGBA{
	{R: 0xe0, G: 0x8a, B: 0x4f, A: 0xff},
	{R: 0xd4, G: 0xc0, B: 0x4a, A: 0xff},
	{R: 0x7c, G: 0xc8, B: 0x76, A: 0xff},
	{R: 0x4f, G: 0xb0, B: 0xe0, A: 0xff},
	{R: 0x9e, G: 0x96, B: 0xf0, A: 0xff},
	{R: 0xd8, G: 0x84, B: 0xcf, A: 0xff},
	{R: 0xff, G: 0x5a, B: 0x5a, A: 0xff},
	{R: 0x5a, G: 0xff, B: 0xc8, A: 0xff},
}

// channelColor picks a palette entry, cycling for large channel counts.
func channelColor(ch int) color.NRGBA {
	return colors[ch%len(colors)]
}

// rgb converts a palette entry to the normalized intensities the renderer
// takes.
func rgb(c color.NRGBA) (r, g, b float32) {
	return float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255
}
