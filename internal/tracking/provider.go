// Package tracking defines the capability interface for pose tracking services
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/vr-obs-switcher/internal/orientation"
)

// MaxDevices is the number of device slots a provider reports poses for
const MaxDevices = 64

// ErrNoHMD is returned when no device is classified as a head-mounted display
var ErrNoHMD = errors.New("no HMD device found")

// DeviceClass classifies a tracked device slot
type DeviceClass int

const (
	ClassInvalid DeviceClass = iota
	ClassHMD
	ClassController
	ClassGenericTracker
	ClassTrackingReference
)

func (c DeviceClass) String() string {
	switch c {
	case ClassHMD:
		return "hmd"
	case ClassController:
		return "controller"
	case ClassGenericTracker:
		return "tracker"
	case ClassTrackingReference:
		return "reference"
	default:
		return "invalid"
	}
}

// Origin selects the reference frame poses are reported in
type Origin int

const (
	OriginSeated Origin = iota
	OriginStanding
	OriginRawUncalibrated
)

func (o Origin) String() string {
	switch o {
	case OriginSeated:
		return "seated"
	case OriginStanding:
		return "standing"
	case OriginRawUncalibrated:
		return "raw"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// ParseOrigin maps a config name to an Origin
func ParseOrigin(name string) (Origin, error) {
	switch strings.ToLower(name) {
	case "seated":
		return OriginSeated, nil
	case "standing", "":
		return OriginStanding, nil
	case "raw":
		return OriginRawUncalibrated, nil
	default:
		return OriginStanding, fmt.Errorf("unknown tracking origin %q", name)
	}
}

// Provider is a session with a tracking service
type Provider interface {
	// Init opens the session in background mode (no rendering)
	Init(ctx context.Context) error

	// DeviceClass returns the class of the device in slot index
	DeviceClass(index int) DeviceClass

	// Poses returns one pose per device slot, MaxDevices long
	Poses(ctx context.Context, origin Origin) ([]orientation.Pose, error)

	// Shutdown closes the session
	Shutdown() error

	// Name returns the provider type name
	Name() string
}

// FindHMD returns the lowest device index classified as an HMD
func FindHMD(p Provider) (int, error) {
	for i := 0; i < MaxDevices; i++ {
		if p.DeviceClass(i) == ClassHMD {
			return i, nil
		}
	}
	return -1, ErrNoHMD
}
