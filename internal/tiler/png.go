package tiler

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/orthotools/tilecut/pkg/raster"
)

// PNGWriter encodes tiles with the standard library PNG encoder, using
// non-premultiplied color so sample values round-trip exactly. 3-channel
// images get a fully opaque alpha; 4-channel images keep their own.
type PNGWriter struct{}

// NewPNGWriter returns the production ImageWriter.
func NewPNGWriter() *PNGWriter {
	return &PNGWriter{}
}

// Write encodes img to a PNG file at path.
func (pw *PNGWriter) Write(path string, img *raster.Image) error {
	if img.Channels != 3 && img.Channels != 4 {
		return fmt.Errorf("png: unsupported channel count %d", img.Channels)
	}
	var m image.Image
	switch img.Depth {
	case raster.U8:
		m = toNRGBA(img)
	case raster.U16:
		m = toNRGBA64(img)
	default:
		return fmt.Errorf("png: unsupported sample depth %s", img.Depth)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toNRGBA(img *raster.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i := 0; i < img.Width*img.Height; i++ {
		src := i * img.Channels
		o := i * 4
		dst.Pix[o+0] = uint8(img.Pix[src+0])
		dst.Pix[o+1] = uint8(img.Pix[src+1])
		dst.Pix[o+2] = uint8(img.Pix[src+2])
		if img.Channels == 4 {
			dst.Pix[o+3] = uint8(img.Pix[src+3])
		} else {
			dst.Pix[o+3] = 0xff
		}
	}
	return dst
}

func toNRGBA64(img *raster.Image) *image.NRGBA64 {
	dst := image.NewNRGBA64(image.Rect(0, 0, img.Width, img.Height))
	for i := 0; i < img.Width*img.Height; i++ {
		src := i * img.Channels
		o := i * 8
		binary.BigEndian.PutUint16(dst.Pix[o+0:], img.Pix[src+0])
		binary.BigEndian.PutUint16(dst.Pix[o+2:], img.Pix[src+1])
		binary.BigEndian.PutUint16(dst.Pix[o+4:], img.Pix[src+2])
		if img.Channels == 4 {
			binary.BigEndian.PutUint16(dst.Pix[o+6:], img.Pix[src+3])
		} else {
			binary.BigEndian.PutUint16(dst.Pix[o+6:], 0xffff)
		}
	}
	return dst
}
