package tiler

import (
	"fmt"
	"os"
	"strings"

	"github.com/orthotools/tilecut/pkg/raster"
)

// worldFilePath swaps the tile's extension for .pgw.
func worldFilePath(tilePath string) string {
	if i := strings.LastIndex(tilePath, "."); i >= 0 {
		return tilePath[:i] + ".pgw"
	}
	return tilePath + ".pgw"
}

// worldFileContent renders the six-line ESRI world file for the tile at
// win: pixel scales and rotations from the source transform, then the map
// coordinates of the center of the tile's top-left pixel.
func worldFileContent(tr raster.Transform, win raster.Window) string {
	cx, cy := tr.Apply(float64(win.X)+0.5, float64(win.Y)+0.5)
	var b strings.Builder
	for _, v := range [6]float64{tr.A, tr.D, tr.B, tr.E, cx, cy} {
		fmt.Fprintf(&b, "%24.10f\n", v)
	}
	return b.String()
}

func (t *Tiler) writeWorldFile(tilePath string, tr raster.Transform, win raster.Window) error {
	path := worldFilePath(tilePath)
	if err := os.WriteFile(path, []byte(worldFileContent(tr, win)), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "World file written to '%s'.\n", path)
	return nil
}
