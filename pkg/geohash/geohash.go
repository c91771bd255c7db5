// Package geohash implements base32 geohash encoding and constant-time
// neighbor lookup.
//
// Cell keys are used as bucket keys for the subscription index: one key at
// the default precision covers roughly a 20x20 km rectangle, and a point's
// key at precision p is always a prefix of its key at any higher precision.
package geohash

import (
	"sort"
	"strings"
)

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision yields ~20km x 20km cells.
const DefaultPrecision = 4

// Direction selects a cardinal neighbor.
type Direction int

const (
	North Direction = iota
	South
	East
	West
)

// Substitution and border tables, indexed by direction then by key-length
// parity (even, odd). Classic Schuyler Erle tables.
var neighborTable = [4][2]string{
	North: {"p0r21436x8zb9dcf5h7kjnmqesgutwvy", "bc01fg45238967deuvhjyznpkmstqrwx"},
	South: {"14365h7k9dcfesgujnmqp0r2twvyx8zb", "238967debc01fg45kmstqrwxuvhjyznp"},
	East:  {"bc01fg45238967deuvhjyznpkmstqrwx", "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
	West:  {"238967debc01fg45kmstqrwxuvhjyznp", "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
}

var borderTable = [4][2]string{
	North: {"prxz", "bcfguvyz"},
	South: {"028b", "0145hjnp"},
	East:  {"bcfguvyz", "prxz"},
	West:  {"0145hjnp", "028b"},
}

// Encode returns the cell key for a coordinate at DefaultPrecision.
func Encode(lat, lon float64) string {
	return EncodeWithPrecision(lat, lon, DefaultPrecision)
}

// EncodeWithPrecision bisects the lat/lon ranges, interleaving one longitude
// bit then one latitude bit, emitting one base32 symbol per five bits.
func EncodeWithPrecision(lat, lon float64, precision int) string {
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	var b strings.Builder
	b.Grow(precision)

	var bits byte
	bitCount := 0

	for b.Len() < precision {
		if bitCount%2 == 0 {
			// even bit: longitude
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				bits |= 1 << (4 - bitCount%5)
				lonMin = mid
			} else {
				lonMax = mid
			}
		} else {
			// odd bit: latitude
			mid := (latMin + latMax) / 2
			if lat >= mid {
				bits |= 1 << (4 - bitCount%5)
				latMin = mid
			} else {
				latMax = mid
			}
		}

		bitCount++

		if bitCount%5 == 0 {
			b.WriteByte(base32[bits])
			bits = 0
		}
	}

	return b.String()
}

// Neighbor computes the adjacent cell key in the given direction.
// It reports false for an empty key or when the lookup runs off the
// coordinate system (poles).
func Neighbor(key string, dir Direction) (string, bool) {
	if key == "" {
		return "", false
	}

	last := key[len(key)-1]
	parent := key[:len(key)-1]
	parity := len(key) % 2

	base := parent
	// At a border the parent itself must shift first.
	if strings.IndexByte(borderTable[dir][parity], last) >= 0 && parent != "" {
		p, ok := Neighbor(parent, dir)
		if !ok {
			return "", false
		}
		base = p
	}

	pos := strings.IndexByte(base32, last)
	if pos < 0 || pos >= len(neighborTable[dir][parity]) {
		return "", false
	}
	return base + string(neighborTable[dir][parity][pos]), true
}

// Neighbors returns the cell itself plus up to eight surrounding cells,
// deduplicated and sorted. Diagonals are derived by chaining two cardinal
// lookups, so near coordinate-system edges the result may hold fewer than
// nine entries.
func Neighbors(key string) []string {
	out := make([]string, 0, 9)
	out = append(out, key)

	north, hasNorth := Neighbor(key, North)
	south, hasSouth := Neighbor(key, South)
	east, hasEast := Neighbor(key, East)
	west, hasWest := Neighbor(key, West)

	if hasNorth {
		out = append(out, north)
	}
	if hasSouth {
		out = append(out, south)
	}
	if hasEast {
		out = append(out, east)
	}
	if hasWest {
		out = append(out, west)
	}

	if hasNorth {
		if ne, ok := Neighbor(north, East); ok {
			out = append(out, ne)
		}
		if nw, ok := Neighbor(north, West); ok {
			out = append(out, nw)
		}
	}
	if hasSouth {
		if se, ok := Neighbor(south, East); ok {
			out = append(out, se)
		}
		if sw, ok := Neighbor(south, West); ok {
			out = append(out, sw)
		}
	}

	sort.Strings(out)
	out = dedupSorted(out)
	return out
}

func dedupSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	j := 1
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1] {
			s[j] = s[i]
			j++
		}
	}
	return s[:j]
}
