package process

import (
	"context"
	"fmt"

	"github.com/nci/geoserve/wps"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/twpayne/go-geos"
)

// geosRun runs fn against a fresh GEOS context. GEOS reports errors by
// panicking, which is turned into an InvalidParameterValue.
func geosRun(fn func(c *geos.Context) (wps.Outputs, error)) (out wps.Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, wps.InvalidParam("geom", "geometry operation failed: %v", r)
		}
	}()
	return fn(geos.NewContext())
}

func toGEOS(c *geos.Context, id string, g orb.Geometry) (*geos.Geom, error) {
	gg, err := c.NewGeomFromWKT(wkt.MarshalString(g))
	if err != nil {
		return nil, wps.InvalidParam(id, "%v", err)
	}
	return gg, nil
}

func fromGEOS(g *geos.Geom) (orb.Geometry, error) {
	if g == nil || g.IsEmpty() {
		return orb.Collection{}, nil
	}
	out, err := wkt.Unmarshal(g.ToWKT())
	if err != nil {
		return nil, fmt.Errorf("converting GEOS result: %v", err)
	}
	return out, nil
}

func inputGeoms(c *geos.Context, in *wps.Inputs, ids ...string) ([]*geos.Geom, error) {
	var out []*geos.Geom
	for _, id := range ids {
		g, err := in.Geometry(id)
		if err != nil {
			return nil, err
		}
		gg, err := toGEOS(c, id, g)
		if err != nil {
			return nil, err
		}
		out = append(out, gg)
	}
	return out, nil
}

var geometryResult = []wps.OutputDescriptor{complexOut("result", "Result", wps.GeometryFormats)}

// unary builds a process taking one geometry and returning a value.
func unary(name, title string, outputs []wps.OutputDescriptor, op func(g *geos.Geom) (interface{}, error)) *process {
	return newProcess("JTS:"+name, title, "",
		[]wps.InputDescriptor{geometryIn("geom", "Input geometry")},
		outputs,
		func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
			return geosRun(func(c *geos.Context) (wps.Outputs, error) {
				gs, err := inputGeoms(c, in, "geom")
				if err != nil {
					return nil, err
				}
				v, err := op(gs[0])
				if err != nil {
					return nil, err
				}
				return wps.Outputs{"result": v}, nil
			})
		})
}

// binary builds a process over the geometries a and b.
func binary(name, title string, outputs []wps.OutputDescriptor, op func(a, b *geos.Geom) (interface{}, error)) *process {
	return newProcess("JTS:"+name, title, "",
		[]wps.InputDescriptor{geometryIn("a", "First geometry"), geometryIn("b", "Second geometry")},
		outputs,
		func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
			return geosRun(func(c *geos.Context) (wps.Outputs, error) {
				gs, err := inputGeoms(c, in, "a", "b")
				if err != nil {
					return nil, err
				}
				v, err := op(gs[0], gs[1])
				if err != nil {
					return nil, err
				}
				return wps.Outputs{"result": v}, nil
			})
		})
}

func geomOp(fn func(g *geos.Geom) *geos.Geom) func(g *geos.Geom) (interface{}, error) {
	return func(g *geos.Geom) (interface{}, error) {
		return fromGEOS(fn(g))
	}
}

func overlay(fn func(a, b *geos.Geom) *geos.Geom) func(a, b *geos.Geom) (interface{}, error) {
	return func(a, b *geos.Geom) (interface{}, error) {
		return fromGEOS(fn(a, b))
	}
}

func geometryProcesses() []wps.Process {
	boolean := []wps.OutputDescriptor{literalOut("result", "Result", wps.LiteralBoolean)}
	number := []wps.OutputDescriptor{literalOut("result", "Result", wps.LiteralDouble)}

	buffer := newProcess("JTS:buffer", "Buffer", "Returns a polygonal geometry representing the input geometry enlarged by a given distance",
		[]wps.InputDescriptor{
			geometryIn("geom", "Input geometry"),
			literal("distance", "Buffer distance", wps.LiteralDouble, "", 1),
			literal("quadrantSegments", "Number of segments used to represent a quadrant of a circle", wps.LiteralInteger, "8", 0),
		},
		geometryResult,
		func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
			distance, err := in.Float("distance", 0)
			if err != nil {
				return nil, err
			}
			quad, err := in.Int("quadrantSegments", 8)
			if err != nil {
				return nil, err
			}
			if quad < 1 {
				return nil, wps.InvalidParam("quadrantSegments", "quadrantSegments must be positive")
			}
			return geosRun(func(c *geos.Context) (wps.Outputs, error) {
				gs, err := inputGeoms(c, in, "geom")
				if err != nil {
					return nil, err
				}
				g, err := fromGEOS(gs[0].Buffer(distance, quad))
				if err != nil {
					return nil, err
				}
				return wps.Outputs{"result": g}, nil
			})
		})

	union := newProcess("JTS:union", "Union", "Returns the union of all the input geometries",
		[]wps.InputDescriptor{many(geometryIn("geom", "Input geometries"), 2)},
		geometryResult,
		func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
			geoms, err := in.Geometries("geom")
			if err != nil {
				return nil, err
			}
			if len(geoms) < 2 {
				return nil, wps.InvalidParam("geom", "union needs at least two geometries")
			}
			return geosRun(func(c *geos.Context) (wps.Outputs, error) {
				var acc *geos.Geom
				for i, g := range geoms {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					gg, err := toGEOS(c, "geom", g)
					if err != nil {
						return nil, err
					}
					if acc == nil {
						acc = gg
					} else {
						acc = acc.Union(gg)
					}
					progress.Update(100 * (i + 1) / len(geoms))
				}
				g, err := fromGEOS(acc)
				if err != nil {
					return nil, err
				}
				return wps.Outputs{"result": g}, nil
			})
		})

	simplify := newProcess("JTS:simplify", "Simplify", "Simplifies the geometry with the Douglas-Peucker algorithm",
		[]wps.InputDescriptor{
			geometryIn("geom", "Input geometry"),
			literal("distance", "Simplification tolerance", wps.LiteralDouble, "", 1),
		},
		geometryResult,
		func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
			tolerance, err := in.Float("distance", 0)
			if err != nil {
				return nil, err
			}
			if tolerance < 0 {
				return nil, wps.InvalidParam("distance", "distance must not be negative")
			}
			return geosRun(func(c *geos.Context) (wps.Outputs, error) {
				gs, err := inputGeoms(c, in, "geom")
				if err != nil {
					return nil, err
				}
				g, err := fromGEOS(gs[0].Simplify(tolerance))
				if err != nil {
					return nil, err
				}
				return wps.Outputs{"result": g}, nil
			})
		})

	return []wps.Process{
		buffer,
		union,
		simplify,
		binary("intersection", "Intersection", geometryResult, overlay(func(a, b *geos.Geom) *geos.Geom { return a.Intersection(b) })),
		binary("difference", "Difference", geometryResult, overlay(func(a, b *geos.Geom) *geos.Geom { return a.Difference(b) })),
		binary("symDifference", "Symmetric difference", geometryResult, overlay(func(a, b *geos.Geom) *geos.Geom { return a.SymDifference(b) })),
		unary("convexHull", "Convex hull", geometryResult, geomOp(func(g *geos.Geom) *geos.Geom { return g.ConvexHull() })),
		unary("centroid", "Centroid", geometryResult, geomOp(func(g *geos.Geom) *geos.Geom { return g.Centroid() })),
		unary("envelope", "Envelope", geometryResult, geomOp(func(g *geos.Geom) *geos.Geom { return g.Envelope() })),
		unary("area", "Area", number, func(g *geos.Geom) (interface{}, error) { return g.Area(), nil }),
		unary("length", "Length", number, func(g *geos.Geom) (interface{}, error) { return g.Length(), nil }),
		unary("isValid", "Is valid", boolean, func(g *geos.Geom) (interface{}, error) { return g.IsValid(), nil }),
		binary("intersects", "Intersects", boolean, func(a, b *geos.Geom) (interface{}, error) { return a.Intersects(b), nil }),
		binary("contains", "Contains", boolean, func(a, b *geos.Geom) (interface{}, error) { return a.Contains(b), nil }),
		binary("within", "Within", boolean, func(a, b *geos.Geom) (interface{}, error) { return a.Within(b), nil }),
		binary("distance", "Distance", number, func(a, b *geos.Geom) (interface{}, error) { return a.Distance(b), nil }),
	}
}
