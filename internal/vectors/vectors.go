// Package vectors converts line drawings from the console's canvas into
// direction vectors and serializes them to the text artifact consumed by the
// remote processing image.
//
// The canvas reports each line relative to its own bounding box, so every
// endpoint is translated by the shape's (left, top) origin before use.
//
// Vector file format (UTF-8, LF separated, no header):
//
//	{x},{y},{direction}   start point
//	{x},{y},{direction}   end point
//
// Coordinates are truncated to whole pixels.
package vectors

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Direction is a user-assigned movement label.
type Direction string

// Supported direction labels.
const (
	North     Direction = "N"
	East      Direction = "E"
	South     Direction = "S"
	West      Direction = "W"
	NorthEast Direction = "NE"
	NorthWest Direction = "NW"
	SouthEast Direction = "SE"
	SouthWest Direction = "SW"
)

// canonicalOrder fixes the serialization order for map-based inputs.
var canonicalOrder = []Direction{North, East, South, West, NorthEast, NorthWest, SouthEast, SouthWest}

// ParseDirection validates a label, accepting lowercase input.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range canonicalOrder {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Point is a pixel coordinate on the reference frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Segment is an absolute line segment (x1,y1)->(x2,y2).
type Segment struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// LineShape is a raw line object from the drawing surface: a bounding-box
// origin plus endpoints relative to that origin.
type LineShape struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
}

// LabeledVector is one direction vector of a VectorSet.
type LabeledVector struct {
	Direction Direction `json:"direction"`
	Segment   Segment   `json:"segment"`
}

// VectorSet is the ordered collection of vectors for one submission.
type VectorSet []LabeledVector

// LinesToVectors converts raw shapes into absolute segments, preserving order.
func LinesToVectors(shapes []LineShape) []Segment {
	out := make([]Segment, 0, len(shapes))
	for _, s := range shapes {
		out = append(out, Segment{
			Start: Point{X: s.Left + s.X1, Y: s.Top + s.Y1},
			End:   Point{X: s.Left + s.X2, Y: s.Top + s.Y2},
		})
	}
	return out
}

// Label pairs segments with direction labels by index. Every segment needs a
// label and a label may be used only once.
func Label(segments []Segment, labels []string) (VectorSet, error) {
	if len(segments) != len(labels) {
		return nil, fmt.Errorf("got %d vectors but %d direction labels", len(segments), len(labels))
	}
	seen := make(map[Direction]bool, len(labels))
	set := make(VectorSet, 0, len(segments))
	for i, raw := range labels {
		d, err := ParseDirection(raw)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i+1, err)
		}
		if seen[d] {
			return nil, fmt.Errorf("vector %d: direction %s already assigned", i+1, d)
		}
		seen[d] = true
		set = append(set, LabeledVector{Direction: d, Segment: segments[i]})
	}
	return set, nil
}

// Text serializes the set in its own order.
func (vs VectorSet) Text() string {
	lines := make([]string, 0, len(vs)*2)
	for _, v := range vs {
		lines = append(lines,
			formatLine(v.Segment.Start, v.Direction),
			formatLine(v.Segment.End, v.Direction),
		)
	}
	return strings.Join(lines, "\n")
}

// Map returns the set keyed by direction.
func (vs VectorSet) Map() map[Direction]Segment {
	m := make(map[Direction]Segment, len(vs))
	for _, v := range vs {
		m[v.Direction] = v.Segment
	}
	return m
}

// VectorsToText serializes a direction map. Known directions are written in
// N, E, S, W, NE, NW, SE, SW order, any others after them alphabetically.
func VectorsToText(m map[Direction]Segment) string {
	return FromMap(m).Text()
}

// FromMap orders a direction map into a VectorSet.
func FromMap(m map[Direction]Segment) VectorSet {
	rank := make(map[Direction]int, len(canonicalOrder))
	for i, d := range canonicalOrder {
		rank[d] = i
	}
	dirs := make([]Direction, 0, len(m))
	for d := range m {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		ri, iKnown := rank[dirs[i]]
		rj, jKnown := rank[dirs[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return dirs[i] < dirs[j]
		}
	})

	set := make(VectorSet, 0, len(dirs))
	for _, d := range dirs {
		set = append(set, LabeledVector{Direction: d, Segment: m[d]})
	}
	return set
}

func formatLine(p Point, d Direction) string {
	return strconv.Itoa(int(p.X)) + "," + strconv.Itoa(int(p.Y)) + "," + string(d)
}

// ParseText reads a vector file back into a VectorSet. Lines come in
// start/end pairs sharing one direction; blank trailing lines and CRLF line
// endings are tolerated.
func ParseText(text string) (VectorSet, error) {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(raw) > 0 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("vector file has %d lines, expected start/end pairs", len(raw))
	}

	set := make(VectorSet, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		start, d1, err := parseLine(raw[i])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		end, d2, err := parseLine(raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		if d1 != d2 {
			return nil, fmt.Errorf("lines %d-%d: direction mismatch %s/%s", i+1, i+2, d1, d2)
		}
		set = append(set, LabeledVector{Direction: d1, Segment: Segment{Start: start, End: end}})
	}
	return set, nil
}

func parseLine(line string) (Point, Direction, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Point{}, "", fmt.Errorf("expected x,y,direction, got %q", line)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return Point{}, "", fmt.Errorf("bad x %q: %w", parts[0], err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return Point{}, "", fmt.Errorf("bad y %q: %w", parts[1], err)
	}
	if parts[2] == "" {
		return Point{}, "", fmt.Errorf("missing direction in %q", line)
	}
	return Point{X: float64(x), Y: float64(y)}, Direction(parts[2]), nil
}
