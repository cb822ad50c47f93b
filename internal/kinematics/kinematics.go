// Package kinematics provides the small vector and angle helpers shared
// by the tracking modules. All angles are Euler degrees; all positions
// are meters in the body-local frame (Y up, X lateral, Z depth).
package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// NormalizeAngle wraps an angle in degrees into [-180, 180).
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}

// NormalizeAngles applies NormalizeAngle per axis.
func NormalizeAngles(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		NormalizeAngle(v.X()),
		NormalizeAngle(v.Y()),
		NormalizeAngle(v.Z()),
	}
}

// AngleDelta returns the normalized difference current-neutral per axis.
func AngleDelta(current, neutral mgl64.Vec3) mgl64.Vec3 {
	return NormalizeAngles(current.Sub(neutral))
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// PlanarDistance is the ground-plane (XZ) distance between two points.
func PlanarDistance(a, b mgl64.Vec3) float64 {
	dx := a.X() - b.X()
	dz := a.Z() - b.Z()
	return math.Hypot(dx, dz)
}

// Planar projects a point onto the ground plane, dropping Y.
func Planar(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X(), 0, v.Z()}
}

// Scale multiplies every component of v by s.
func Scale(v mgl64.Vec3, s float64) mgl64.Vec3 {
	return mgl64.Vec3{v.X() * s, v.Y() * s, v.Z() * s}
}
