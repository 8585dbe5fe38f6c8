package tiler

import "github.com/orthotools/tilecut/pkg/raster"

// Grid is the tile grid laid over an image: Cols x Rows tiles of TilePx
// pixels, with the right and bottom edges clipped to the image bounds.
type Grid struct {
	TilePx      int
	Cols, Rows  int
	ImageWidth  int
	ImageHeight int
}

// NewGrid computes the grid for an image of imageW x imageH pixels and a
// tile edge of tilePx pixels. A tile edge below 1 is clamped to 1.
func NewGrid(imageW, imageH, tilePx int) Grid {
	if tilePx < 1 {
		tilePx = 1
	}
	return Grid{
		TilePx:      tilePx,
		Cols:        (imageW + tilePx - 1) / tilePx,
		Rows:        (imageH + tilePx - 1) / tilePx,
		ImageWidth:  imageW,
		ImageHeight: imageH,
	}
}

// Tiles returns the total cell count, clipped edge tiles included.
func (g Grid) Tiles() int {
	return g.Cols * g.Rows
}

// Window returns the pixel region of the tile at (col, row). Edge tiles
// get a window smaller than TilePx, never an empty one.
func (g Grid) Window(col, row int) raster.Window {
	x := col * g.TilePx
	y := row * g.TilePx
	return raster.Window{
		X:      x,
		Y:      y,
		Width:  min(g.TilePx, g.ImageWidth-x),
		Height: min(g.TilePx, g.ImageHeight-y),
	}
}
