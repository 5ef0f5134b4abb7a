package reader

import (
	"context"
	"io"
	"os"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// osmScanner is implemented by both osmxml and osmpbf scanners
type osmScanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

func readOSMXML(ctx context.Context, path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readOSM(osmxml.New(ctx, f))
}

func readOSMPBF(ctx context.Context, path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readOSM(osmpbf.New(ctx, f, runtime.NumCPU()))
}

// readOSM builds features from OSM data: tagged nodes become points, ways
// become lines or, when closed and area-like, polygons, and multipolygon
// relations are assembled from their closed member rings. Features keep the
// file's object order: nodes, then ways, then relations.
func readOSM(scanner osmScanner) (*dataset.Dataset, error) {
	defer scanner.Close()

	coords := make(map[osm.NodeID]orb.Point)
	wayLines := make(map[osm.WayID]orb.LineString)
	var features []dataset.Feature

	for scanner.Scan() {
		switch obj := scanner.Object().(type) {
		case *osm.Node:
			p := orb.Point{obj.Lon, obj.Lat}
			coords[obj.ID] = p
			if len(obj.Tags) > 0 {
				features = append(features, osmFeature(p, "node", int64(obj.ID), obj.Tags))
			}
		case *osm.Way:
			ls := make(orb.LineString, 0, len(obj.Nodes))
			for _, n := range obj.Nodes {
				if p, ok := coords[n.ID]; ok {
					ls = append(ls, p)
				}
			}
			if len(ls) < 2 {
				continue
			}
			wayLines[obj.ID] = ls
			if len(obj.Tags) == 0 {
				continue
			}
			closed := len(obj.Nodes) >= 4 && obj.Nodes[0].ID == obj.Nodes[len(obj.Nodes)-1].ID
			if closed && isArea(obj.Tags) {
				features = append(features, osmFeature(orb.Polygon{orb.Ring(ls)}, "way", int64(obj.ID), obj.Tags))
			} else {
				features = append(features, osmFeature(ls, "way", int64(obj.ID), obj.Tags))
			}
		case *osm.Relation:
			if !isMultipolygonRelation(obj) {
				continue
			}
			var outer, inner []orb.LineString
			for _, m := range obj.Members {
				if m.Type != osm.TypeWay {
					continue
				}
				ls, ok := wayLines[osm.WayID(m.Ref)]
				if !ok {
					continue
				}
				if m.Role == "inner" {
					inner = append(inner, ls)
				} else {
					outer = append(outer, ls)
				}
			}
			if g := assembleMultipolygon(outer, inner); g != nil {
				features = append(features, osmFeature(g, "relation", int64(obj.ID), obj.Tags))
			}
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}

	return dataset.New(proj.WGS84, features), nil
}

func osmFeature(g orb.Geometry, typ string, id int64, tags osm.Tags) dataset.Feature {
	props := make(map[string]any, len(tags)+2)
	for _, t := range tags {
		props[t.Key] = t.Value
	}
	props["osm_type"] = typ
	props["osm_id"] = id
	return dataset.Feature{Geometry: g, Properties: props}
}

// isArea checks if a closed way should be treated as a polygon
func isArea(tags osm.Tags) bool {
	if v := tags.Find("area"); v != "" {
		return v == "yes"
	}

	areaKeys := map[string]bool{
		"building": true,
		"landuse":  true,
		"natural":  true,
		"leisure":  true,
		"amenity":  true,
		"shop":     true,
		"tourism":  true,
		"man_made": true,
		"waterway": false,
		"highway":  false,
		"barrier":  false,
		"railway":  false,
	}
	for _, tag := range tags {
		if area, exists := areaKeys[tag.Key]; exists {
			return area
		}
	}
	return false
}

// isMultipolygonRelation checks if a relation is a multipolygon or boundary
func isMultipolygonRelation(rel *osm.Relation) bool {
	v := rel.Tags.Find("type")
	return v == "multipolygon" || v == "boundary"
}

// assembleMultipolygon builds polygons from outer and inner member ways,
// assigning each inner ring to the first outer ring containing it
func assembleMultipolygon(outerWays, innerWays []orb.LineString) orb.Geometry {
	outers := assembleRings(outerWays)
	if len(outers) == 0 {
		return nil
	}
	inners := assembleRings(innerWays)

	polys := make(orb.MultiPolygon, len(outers))
	for i, r := range outers {
		if r.Orientation() == orb.CW {
			r.Reverse()
		}
		polys[i] = orb.Polygon{r}
	}
	for _, h := range inners {
		if h.Orientation() == orb.CCW {
			h.Reverse()
		}
		for i := range polys {
			if planar.RingContains(polys[i][0], h[0]) {
				polys[i] = append(polys[i], h)
				break
			}
		}
	}

	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}

// assembleRings connects way segments into closed rings.
// Returns fully closed rings only.
func assembleRings(ways []orb.LineString) []orb.Ring {
	var rings []orb.Ring
	used := make([]bool, len(ways))

	for start := range ways {
		if used[start] {
			continue
		}
		used[start] = true
		ring := append(orb.Ring(nil), ways[start]...)

		for !ring.Closed() {
			end := ring[len(ring)-1]
			found := false
			for i, w := range ways {
				if used[i] || len(w) < 2 {
					continue
				}
				if w[0] == end {
					ring = append(ring, w[1:]...)
				} else if w[len(w)-1] == end {
					for j := len(w) - 2; j >= 0; j-- {
						ring = append(ring, w[j])
					}
				} else {
					continue
				}
				used[i] = true
				found = true
				break
			}
			if !found {
				break
			}
		}

		if len(ring) >= 4 && ring.Closed() {
			rings = append(rings, ring)
		}
	}
	return rings
}
