// Package vmc receives device poses over the Virtual Motion Capture (VMC) OSC protocol
package vmc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"gonum.org/v1/gonum/num/quat"

	"github.com/teslashibe/vr-obs-switcher/internal/orientation"
	"github.com/teslashibe/vr-obs-switcher/internal/tracking"
)

// VMC OSC addresses for device transforms.
// Arguments: serial string, px py pz, qx qy qz qw (Unity frame)
const (
	AddrHMD        = "/VMC/Ext/Hmd/Pos"
	AddrController = "/VMC/Ext/Con/Pos"
	AddrTracker    = "/VMC/Ext/Tra/Pos"
	AddrStatus     = "/VMC/Ext/OK"
)

// Config configures the VMC source
type Config struct {
	ListenAddr       string        // UDP address to receive OSC on
	StaleAfter       time.Duration // Poses older than this are invalid
	DiscoveryTimeout time.Duration // How long Init waits for a first HMD packet
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:39539",
		StaleAfter:       500 * time.Millisecond,
		DiscoveryTimeout: 3 * time.Second,
	}
}

type device struct {
	serial   string
	class    tracking.DeviceClass
	pose     orientation.Matrix34
	lastSeen time.Time
}

// Source is a tracking.Provider fed by VMC packets
type Source struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	conn       net.PacketConn
	devices    []*device
	bySerial   map[string]int
	trackingOK bool
	closed     bool
	hmdSeen    chan struct{}

	packets  uint64
	rejected uint64
}

// NewSource creates a VMC source; Init starts listening
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		bySerial:   make(map[string]int),
		trackingOK: true,
		hmdSeen:    make(chan struct{}),
	}
}

// Init binds the UDP socket and waits briefly for the HMD to appear
func (s *Source) Init(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	d := osc.NewStandardDispatcher()
	for _, addr := range []string{AddrHMD, AddrController, AddrTracker, AddrStatus} {
		if err := d.AddMsgHandler(addr, s.Handle); err != nil {
			conn.Close()
			return fmt.Errorf("register %s: %w", addr, err)
		}
	}

	server := &osc.Server{Dispatcher: d}
	go func() {
		if err := server.Serve(conn); err != nil && !s.isClosed() {
			s.logger.Warn("VMC listener stopped", "error", err)
		}
	}()

	s.logger.Info("VMC source listening", "addr", conn.LocalAddr().String())

	if s.cfg.DiscoveryTimeout <= 0 {
		return nil
	}

	timer := time.NewTimer(s.cfg.DiscoveryTimeout)
	defer timer.Stop()

	select {
	case <-s.hmdSeen:
		s.logger.Info("VMC HMD discovered")
	case <-timer.C:
		s.logger.Warn("no VMC HMD packet yet",
			"waited", s.cfg.DiscoveryTimeout,
			"hint", "enable VMC protocol output in the sending application",
		)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Handle applies a single OSC message
func (s *Source) Handle(msg *osc.Message) {
	switch msg.Address {
	case AddrStatus:
		s.handleStatus(msg)
		return
	case AddrHMD, AddrController, AddrTracker:
	default:
		return
	}

	serial, m, err := parseTransform(msg)
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		s.logger.Debug("rejected VMC packet", "address", msg.Address, "error", err)
		return
	}

	class := classFor(msg.Address)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.packets++

	idx, ok := s.bySerial[serial]
	if !ok {
		if len(s.devices) >= tracking.MaxDevices {
			s.rejected++
			return
		}
		idx = len(s.devices)
		s.bySerial[serial] = idx
		s.devices = append(s.devices, &device{serial: serial, class: class})

		s.logger.Info("VMC device discovered",
			"index", idx,
			"serial", serial,
			"class", class.String(),
		)

		if class == tracking.ClassHMD {
			select {
			case <-s.hmdSeen:
			default:
				close(s.hmdSeen)
			}
		}
	}

	dev := s.devices[idx]
	dev.pose = m
	dev.lastSeen = s.now()
}

// /VMC/Ext/OK loaded [calibration state, calibration mode, tracking status]
func (s *Source) handleStatus(msg *osc.Message) {
	if len(msg.Arguments) < 4 {
		return
	}

	status, ok := toInt(msg.Arguments[3])
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackingOK = status == 1
}

// DeviceClass returns the class of the device in slot index
func (s *Source) DeviceClass(index int) tracking.DeviceClass {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.devices) {
		return tracking.ClassInvalid
	}
	return s.devices[index].class
}

// Poses returns one pose per device slot. VMC has a single calibrated
// space, which is reported for every origin.
func (s *Source) Poses(ctx context.Context, origin tracking.Origin) ([]orientation.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("source closed")
	}

	now := s.now()
	poses := make([]orientation.Pose, tracking.MaxDevices)
	for i, dev := range s.devices {
		fresh := now.Sub(dev.lastSeen) <= s.cfg.StaleAfter
		poses[i] = orientation.Pose{
			DeviceToAbsolute: dev.pose,
			Valid:            fresh && s.trackingOK,
			Timestamp:        dev.lastSeen,
		}
	}
	return poses, nil
}

// Shutdown stops the listener
func (s *Source) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		s.logger.Info("VMC source closed")
		return err
	}
	return nil
}

// Name returns the provider type name
func (s *Source) Name() string {
	return "vmc"
}

// LocalAddr returns the bound UDP address, nil before Init
func (s *Source) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stats returns VMC source statistics
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Devices:  len(s.devices),
		Packets:  s.packets,
		Rejected: s.rejected,
		Tracking: s.trackingOK,
	}
}

// Stats contains VMC source statistics
type Stats struct {
	Devices  int    `json:"devices"`
	Packets  uint64 `json:"packets"`
	Rejected uint64 `json:"rejected"`
	Tracking bool   `json:"tracking"`
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func classFor(addr string) tracking.DeviceClass {
	switch addr {
	case AddrHMD:
		return tracking.ClassHMD
	case AddrController:
		return tracking.ClassController
	default:
		return tracking.ClassGenericTracker
	}
}

// parseTransform converts a VMC transform message from Unity's left-handed
// frame into the right-handed Y-up frame used by orientation.
func parseTransform(msg *osc.Message) (string, orientation.Matrix34, error) {
	if len(msg.Arguments) < 8 {
		return "", orientation.Matrix34{}, fmt.Errorf("expected 8 arguments, got %d", len(msg.Arguments))
	}

	serial, ok := msg.Arguments[0].(string)
	if !ok {
		return "", orientation.Matrix34{}, fmt.Errorf("serial is %T, not string", msg.Arguments[0])
	}

	var v [7]float64
	for i := range v {
		f, ok := toFloat(msg.Arguments[i+1])
		if !ok {
			return "", orientation.Matrix34{}, fmt.Errorf("argument %d is %T, not float", i+1, msg.Arguments[i+1])
		}
		v[i] = f
	}

	q := quat.Number{Real: v[6], Imag: -v[3], Jmag: -v[4], Kmag: v[5]}
	return serial, orientation.FromQuaternion(q, [3]float64{v[0], v[1], -v[2]}), nil
}

func toFloat(arg interface{}) (float64, bool) {
	switch x := arg.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}

func toInt(arg interface{}) (int, bool) {
	switch x := arg.(type) {
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float32:
		return int(x), true
	default:
		return 0, false
	}
}
