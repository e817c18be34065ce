package vmc

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/teslashibe/vr-obs-switcher/internal/orientation"
	"github.com/teslashibe/vr-obs-switcher/internal/tracking"
)

// unityYaw builds a VMC transform message for a rotation of deg degrees
// about Unity's up axis.
func unityYaw(addr, serial string, deg float64) *osc.Message {
	half := deg * math.Pi / 360
	return osc.NewMessage(addr, serial,
		float32(0.1), float32(1.6), float32(0.2),
		float32(0), float32(math.Sin(half)), float32(0), float32(math.Cos(half)),
	)
}

func newTestSource(t *testing.T) (*Source, *time.Time) {
	t.Helper()

	now := time.Unix(1000, 0)
	s := NewSource(DefaultConfig(), nil)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSource_DeviceDiscoveryOrder(t *testing.T) {
	s, _ := newTestSource(t)

	s.Handle(unityYaw(AddrController, "LHR-CTRL", 0))
	s.Handle(unityYaw(AddrHMD, "LHR-HMD", 0))
	s.Handle(unityYaw(AddrTracker, "LHR-TRK", 0))
	s.Handle(unityYaw(AddrHMD, "LHR-HMD", 10)) // same serial keeps its slot

	want := []tracking.DeviceClass{
		tracking.ClassController,
		tracking.ClassHMD,
		tracking.ClassGenericTracker,
		tracking.ClassInvalid,
	}
	for i, w := range want {
		if got := s.DeviceClass(i); got != w {
			t.Errorf("DeviceClass(%d) = %s, want %s", i, got, w)
		}
	}

	idx, err := tracking.FindHMD(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 1 {
		t.Errorf("expected HMD at index 1, got %d", idx)
	}

	if st := s.Stats(); st.Devices != 3 || st.Packets != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSource_PoseConversion(t *testing.T) {
	s, _ := newTestSource(t)
	s.Handle(unityYaw(AddrHMD, "HMD", 40))

	poses, err := s.Poses(context.Background(), tracking.OriginStanding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !poses[0].Valid {
		t.Fatal("expected fresh pose to be valid")
	}

	// Unity is left-handed: a positive Unity yaw is negative in our frame
	h := orientation.Heading(poses[0].DeviceToAbsolute)
	if math.Abs(h-(-40)) > 1e-3 {
		t.Errorf("expected heading -40, got %f", h)
	}

	m := poses[0].DeviceToAbsolute
	if math.Abs(m[2][3]-(-0.2)) > 1e-6 {
		t.Errorf("expected z translation flipped to -0.2, got %f", m[2][3])
	}
}

func TestSource_StalePoseInvalid(t *testing.T) {
	s, now := newTestSource(t)
	s.Handle(unityYaw(AddrHMD, "HMD", 0))

	*now = now.Add(s.cfg.StaleAfter + time.Millisecond)

	poses, _ := s.Poses(context.Background(), tracking.OriginStanding)
	if poses[0].Valid {
		t.Error("expected stale pose to be invalid")
	}
}

func TestSource_TrackingStatus(t *testing.T) {
	s, _ := newTestSource(t)
	s.Handle(unityYaw(AddrHMD, "HMD", 0))

	s.Handle(osc.NewMessage(AddrStatus, int32(1), int32(3), int32(0), int32(0)))
	poses, _ := s.Poses(context.Background(), tracking.OriginStanding)
	if poses[0].Valid {
		t.Error("expected pose invalid while tracking is lost")
	}

	s.Handle(osc.NewMessage(AddrStatus, int32(1), int32(3), int32(0), int32(1)))
	poses, _ = s.Poses(context.Background(), tracking.OriginStanding)
	if !poses[0].Valid {
		t.Error("expected pose valid once tracking recovers")
	}

	// Short status messages carry no tracking flag
	s.Handle(osc.NewMessage(AddrStatus, int32(1)))
	if !s.Stats().Tracking {
		t.Error("short status message should not change tracking state")
	}
}

func TestSource_RejectsMalformed(t *testing.T) {
	s, _ := newTestSource(t)

	s.Handle(osc.NewMessage(AddrHMD, "HMD", float32(1)))
	s.Handle(osc.NewMessage(AddrHMD, int32(5), float32(0), float32(0), float32(0),
		float32(0), float32(0), float32(0), float32(1)))
	s.Handle(osc.NewMessage(AddrHMD, "HMD", "x", float32(0), float32(0),
		float32(0), float32(0), float32(0), float32(1)))

	if st := s.Stats(); st.Rejected != 3 || st.Devices != 0 {
		t.Errorf("expected 3 rejected and 0 devices, got %+v", st)
	}

	if _, err := tracking.FindHMD(s); err == nil {
		t.Error("expected ErrNoHMD")
	}
}

func TestSource_UDPLoopback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DiscoveryTimeout = 0

	s := NewSource(cfg, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer s.Shutdown()

	addr := s.LocalAddr().(*net.UDPAddr)
	client := osc.NewClient("127.0.0.1", addr.Port)

	deadline := time.Now().Add(2 * time.Second)
	for s.DeviceClass(0) != tracking.ClassHMD {
		if time.Now().After(deadline) {
			t.Fatal("HMD not discovered over UDP")
		}
		if err := client.Send(unityYaw(AddrHMD, "HMD", 90)); err != nil {
			t.Fatalf("send: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	poses, err := s.Poses(context.Background(), tracking.OriginStanding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h := orientation.Heading(poses[0].DeviceToAbsolute); math.Abs(h-(-90)) > 1e-3 {
		t.Errorf("expected heading -90, got %f", h)
	}
}

func TestSource_ShutdownStopsPoses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DiscoveryTimeout = 0

	s := NewSource(cfg, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := s.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}

	if _, err := s.Poses(context.Background(), tracking.OriginStanding); err == nil {
		t.Error("expected error after shutdown")
	}
}

func TestSource_InitDiscoveryTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DiscoveryTimeout = 30 * time.Millisecond

	s := NewSource(cfg, nil)
	start := time.Now()
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() should not fail without packets: %v", err)
	}
	defer s.Shutdown()

	if time.Since(start) < cfg.DiscoveryTimeout {
		t.Error("Init returned before discovery timeout")
	}
}

var _ tracking.Provider = (*Source)(nil)
