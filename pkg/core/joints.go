// Package core holds the public data types shared between the tracking
// modules, the coordinator, and the storage sinks.
//
// Coordinate convention: right-handed, Y up. X is the lateral axis
// (positive right), Z the anterior-posterior axis (positive forward).
// Positions are meters, rotations are Euler angles in degrees.
package core

import "github.com/go-gl/mathgl/mgl64"

// JointPose is the pose of a single named joint for one tick.
type JointPose struct {
	Position mgl64.Vec3
	Rotation mgl64.Vec3 // Euler XYZ, degrees
}

// JointSnapshot maps joint names to poses for one body, one tick.
// It is built and owned by the external joint source; the tracking
// code only reads it and never retains it across ticks.
type JointSnapshot map[string]JointPose

// Get returns the pose for a joint name.
func (s JointSnapshot) Get(name string) (JointPose, bool) {
	p, ok := s[name]
	return p, ok
}

// HasAll reports whether every named joint is present in the snapshot.
func (s JointSnapshot) HasAll(names ...string) bool {
	for _, n := range names {
		if _, ok := s[n]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the subset of names absent from the snapshot.
func (s JointSnapshot) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := s[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
