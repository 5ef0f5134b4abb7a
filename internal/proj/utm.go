package proj

import (
	"math"

	"github.com/paulmach/orb"
)

// WGS84 ellipsoid and UTM constants
const (
	semiMajor   = 6378137.0
	flattening  = 1 / 298.257223563
	utmScale    = 0.9996
	falseEast   = 500000.0
	falseNorth  = 10000000.0 // southern hemisphere only
	degToRadian = math.Pi / 180
)

var (
	e2  = flattening * (2 - flattening)
	ep2 = e2 / (1 - e2)
	e1  = (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
)

type utmZone struct {
	centralMeridian float64 // radians
	south           bool
}

// utmZoneOf maps EPSG 326zz/327zz to its zone
func utmZoneOf(code int) utmZone {
	zone := code % 100
	return utmZone{
		centralMeridian: (float64(zone-1)*6 - 180 + 3) * degToRadian,
		south:           code >= 32701,
	}
}

func meridianArc(phi float64) float64 {
	e4, e6 := e2*e2, e2*e2*e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// fromLonLat is the transverse Mercator forward projection (Snyder 8-9, 8-10)
func (z utmZone) fromLonLat(p orb.Point) orb.Point {
	phi := p[1] * degToRadian
	lam := p[0] * degToRadian

	sin, cos, tan := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := semiMajor / math.Sqrt(1-e2*sin*sin)
	t := tan * tan
	c := ep2 * cos * cos
	a := cos * (lam - z.centralMeridian)

	x := utmScale*n*(a+(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + falseEast
	y := utmScale * (meridianArc(phi) + n*tan*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if z.south {
		y += falseNorth
	}
	return orb.Point{x, y}
}

// toLonLat is the inverse projection (Snyder 8-18 .. 8-25)
func (z utmZone) toLonLat(p orb.Point) orb.Point {
	x := p[0] - falseEast
	y := p[1]
	if z.south {
		y -= falseNorth
	}

	e4, e6 := e2*e2, e2*e2*e2
	mu := (y / utmScale) / (semiMajor * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin, cos, tan := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	c1 := ep2 * cos * cos
	t1 := tan * tan
	n1 := semiMajor / math.Sqrt(1-e2*sin*sin)
	r1 := semiMajor * (1 - e2) / math.Pow(1-e2*sin*sin, 1.5)
	d := x / (n1 * utmScale)

	phi := phi1 - (n1*tan/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lam := z.centralMeridian + (d-(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cos

	return orb.Point{lam / degToRadian, phi / degToRadian}
}
