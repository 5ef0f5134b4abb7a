package proj

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Units of a CRS's coordinates
type Units int

const (
	UnitsUnknown Units = iota
	UnitsDegrees
	UnitsMetres
)

func (u Units) String() string {
	switch u {
	case UnitsDegrees:
		return "degrees"
	case UnitsMetres:
		return "metres"
	default:
		return "unknown"
	}
}

// CRS identifies a coordinate reference system by authority and code.
// The zero value means "absent": the dataset carries no CRS at all.
type CRS struct {
	Authority string
	Code      int
}

// Well-known reference systems
var (
	WGS84       = CRS{Authority: "EPSG", Code: SRID4326}
	WebMercator = CRS{Authority: "EPSG", Code: SRID3857}
)

// EPSG returns the EPSG CRS with the given code
func EPSG(code int) CRS {
	return canonical(CRS{Authority: "EPSG", Code: code})
}

// NewCRS returns the CRS for an authority name and code
func NewCRS(authority string, code int) CRS {
	return canonical(CRS{Authority: strings.ToUpper(strings.TrimSpace(authority)), Code: code})
}

// IsZero reports whether the CRS is absent
func (c CRS) IsZero() bool {
	return c.Authority == "" && c.Code == 0
}

func (c CRS) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Authority, c.Code)
}

// SRID returns the PostGIS SRID for EPSG systems and 0 otherwise
func (c CRS) SRID() int {
	if c.Authority == "EPSG" {
		return c.Code
	}
	return 0
}

// Units returns the unit of the CRS's coordinates
func (c CRS) Units() Units {
	if c.Authority != "EPSG" {
		return UnitsUnknown
	}
	switch {
	case c.Code == SRID3857:
		return UnitsMetres
	case isUTM(c.Code):
		return UnitsMetres
	case c.Code >= 4000 && c.Code < 5000:
		// EPSG's geographic 2D systems live in this block
		return UnitsDegrees
	default:
		return UnitsMetres
	}
}

// ParseCRS parses a CRS identifier.
// Accepts: "EPSG:4326", "epsg:4326", "4326", "urn:ogc:def:crs:EPSG::4326",
// "urn:ogc:def:crs:OGC:1.3:CRS84", "CRS84", "ESRI:102100".
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, errors.New("empty CRS identifier")
	}

	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}

	if strings.HasPrefix(upper, "URN:OGC:DEF:CRS:") {
		// urn:ogc:def:crs:{authority}:{version}:{code}
		parts := strings.Split(s, ":")
		if len(parts) < 7 {
			return CRS{}, errors.Newf("invalid CRS URN: %s", s)
		}
		return parseAuthorityCode(parts[4], parts[len(parts)-1], s)
	}

	if i := strings.Index(s, ":"); i >= 0 {
		return parseAuthorityCode(s[:i], s[i+1:], s)
	}
	return parseAuthorityCode("EPSG", s, s)
}

func parseAuthorityCode(authority, code, orig string) (CRS, error) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n <= 0 {
		return CRS{}, errors.Newf("invalid CRS identifier: %s", orig)
	}
	authority = strings.ToUpper(strings.TrimSpace(authority))
	if authority == "" {
		return CRS{}, errors.Newf("invalid CRS identifier: %s", orig)
	}
	return canonical(CRS{Authority: authority, Code: n}), nil
}

// canonical folds aliases of the same system onto one identifier
func canonical(c CRS) CRS {
	switch {
	case c.Authority == "EPSG" && c.Code == 900913:
		return WebMercator
	case c.Authority == "ESRI" && c.Code == 102100:
		return WebMercator
	case c.Authority == "OGC" && c.Code == 84:
		return WGS84
	}
	return c
}

func isUTM(code int) bool {
	return (code >= 32601 && code <= 32660) || (code >= 32701 && code <= 32760)
}
