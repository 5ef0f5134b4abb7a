package geom

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

// A geos.Context serialises every call made through it, so each worker
// borrows its own.
var contexts = sync.Pool{
	New: func() any { return geos.NewContext() },
}

// withGEOS hands fn a GEOS copy of g. Exceptions raised inside GEOS, which
// go-geos surfaces as panics, come back as errors.
func withGEOS(g orb.Geometry, fn func(*geos.Geom) error) (err error) {
	b, err := wkb.Marshal(g)
	if err != nil {
		return errors.Wrap(err, "failed to encode geometry")
	}

	gctx := contexts.Get().(*geos.Context)
	defer contexts.Put(gctx)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("geos: %v", r)
		}
	}()

	gg, err := gctx.NewGeomFromWKB(b)
	if err != nil {
		return err
	}
	defer gg.Destroy()
	return fn(gg)
}

// fromGEOS decodes a geometry produced by GEOS back into orb types.
func fromGEOS(gg *geos.Geom) (orb.Geometry, error) {
	g, err := wkb.Unmarshal(gg.ToWKB())
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode geometry")
	}
	return g, nil
}
