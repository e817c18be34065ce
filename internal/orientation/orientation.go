// Package orientation derives headings from tracked device transforms
package orientation

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
)

// Matrix34 is a row-major device-to-world transform.
// Columns 0..2 hold the rotation, column 3 the translation (meters).
// The tracking frame is Y-up: -Z forward, +X right.
type Matrix34 [3][4]float64

// Identity is the transform of a device at the origin looking forward
var Identity = Matrix34{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// Pose is a single tracked device sample
type Pose struct {
	DeviceToAbsolute Matrix34  `json:"device_to_absolute"`
	Valid            bool      `json:"valid"`
	Timestamp        time.Time `json:"timestamp"`
}

// Quaternion converts the rotation block of m to a unit quaternion.
// Radicands are clamped at zero so drifted matrices never produce NaN.
func Quaternion(m Matrix34) quat.Number {
	m00, m11, m22 := m[0][0], m[1][1], m[2][2]

	return quat.Number{
		Real: math.Sqrt(math.Max(0, 1+m00+m11+m22)) / 2,
		Imag: math.Copysign(math.Sqrt(math.Max(0, 1+m00-m11-m22))/2, m[2][1]-m[1][2]),
		Jmag: math.Copysign(math.Sqrt(math.Max(0, 1-m00+m11-m22))/2, m[0][2]-m[2][0]),
		Kmag: math.Copysign(math.Sqrt(math.Max(0, 1-m00-m11+m22))/2, m[1][0]-m[0][1]),
	}
}

// Heading returns the rotation about the vertical axis in degrees, (-180, 180]
func Heading(m Matrix34) float64 {
	q := Quaternion(m)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	yaw := math.Atan2(2*(w*y+x*z), 1-2*(x*x+y*y)) * 180 / math.Pi
	if yaw <= -180 {
		yaw += 360
	}
	return yaw
}

// Wrap folds any angle in degrees into (-180, 180].
// Wrap(Wrap(x)) == Wrap(x) for all finite x.
func Wrap(deg float64) float64 {
	r := math.Mod(180-deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return 180 - r
}

// Relative returns heading measured from the calibrated zero
func Relative(heading, zero float64) float64 {
	return Wrap(heading - zero)
}

// IsFront reports whether a relative heading lies inside the front cone.
// The boundary counts as front.
func IsFront(relative, threshold float64) bool {
	return math.Abs(relative) <= threshold
}

// FromQuaternion builds a transform from a rotation and a translation.
// q need not be normalized.
func FromQuaternion(q quat.Number, t [3]float64) Matrix34 {
	n := quat.Abs(q)
	if n == 0 {
		m := Identity
		m[0][3], m[1][3], m[2][3] = t[0], t[1], t[2]
		return m
	}
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n

	return Matrix34{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), t[0]},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), t[1]},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), t[2]},
	}
}

// YawMatrix returns a pure rotation of deg degrees about the vertical axis
func YawMatrix(deg float64) Matrix34 {
	half := deg * math.Pi / 360
	return FromQuaternion(quat.Number{Real: math.Cos(half), Jmag: math.Sin(half)}, [3]float64{})
}
