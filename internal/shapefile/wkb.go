package shapefile

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// EncodeWKB returns little-endian WKB for g. Returns nil, nil for a nil geometry.
func EncodeWKB(g *geom.MultiPolygon) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: encode WKB")
	}
	return data, nil
}

// EncodeEWKB returns little-endian EWKB for g tagged with srid (0 leaves it
// untagged). The input geometry is not modified.
func EncodeEWKB(g *geom.MultiPolygon, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g.Clone().SetSRID(srid), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: encode EWKB")
	}
	return data, nil
}

// DecodeWKB parses WKB produced by EncodeWKB.
func DecodeWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: decode WKB")
	}
	mp, ok := g.(*geom.MultiPolygon)
	if !ok {
		return nil, eris.Errorf("shapefile: decoded %T, want MultiPolygon", g)
	}
	return mp, nil
}
