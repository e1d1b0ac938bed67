// Package geometry computes scalar facial signals from landmark coordinates.
package geometry

import (
	"math"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Distance returns the Euclidean distance between two points
func Distance(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Midpoint returns the point halfway between a and b
func Midpoint(a, b types.Point) types.Point {
	return types.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2 * |p0-p3|).
//
// p0 and p3 are the horizontal corners, p1/p2 the upper lid and p4/p5 the
// lower lid. A zero-width eye returns 0 instead of dividing by zero.
func EyeAspectRatio(eye [6]types.Point) float64 {
	width := Distance(eye[0], eye[3])
	if width == 0 {
		return 0
	}
	vertical := Distance(eye[1], eye[5]) + Distance(eye[2], eye[4])
	return vertical / (2 * width)
}

// EyeWidth returns the corner-to-corner span of an eye contour
func EyeWidth(eye [6]types.Point) float64 {
	return Distance(eye[0], eye[3])
}

// MouthOpenDistance returns the distance between the midpoint of the top
// pair (mouth[0], mouth[1]) and the midpoint of the bottom pair (mouth[2], mouth[3]).
func MouthOpenDistance(mouth [4]types.Point) float64 {
	top := Midpoint(mouth[0], mouth[1])
	bottom := Midpoint(mouth[2], mouth[3])
	return Distance(top, bottom)
}

// Centroid returns the mean of the given points
func Centroid(points ...types.Point) types.Point {
	if len(points) == 0 {
		return types.Point{}
	}
	var c types.Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return types.Point{X: c.X / n, Y: c.Y / n}
}

// InterocularDistance is the distance between the two eye centroids.
// Used to normalise pixel distances across resolutions.
func InterocularDistance(left, right [6]types.Point) float64 {
	return Distance(Centroid(left[:]...), Centroid(right[:]...))
}
