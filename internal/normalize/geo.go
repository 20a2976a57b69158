package normalize

import (
	"github.com/twpayne/go-geom"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// InBounds reports whether the coordinate falls inside the source's
// configured bounding box. A nil box accepts everything.
func InBounds(lat, lon float64, box *model.BoundingBox) bool {
	if box == nil {
		return true
	}
	b := geom.NewBounds(geom.XY).Set(box.MinLon, box.MinLat, box.MaxLon, box.MaxLat)
	return b.OverlapsPoint(geom.XY, geom.Coord{lon, lat})
}
