// Package switcher runs the heading-driven front/back source switching loop
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/vr-obs-switcher/internal/calibration"
	"github.com/teslashibe/vr-obs-switcher/internal/orientation"
	"github.com/teslashibe/vr-obs-switcher/internal/procwait"
	"github.com/teslashibe/vr-obs-switcher/internal/scene"
	"github.com/teslashibe/vr-obs-switcher/internal/tracking"
)

// State is the lifecycle stage of the switcher
type State int32

const (
	StateIdle State = iota
	StateWaitingForServices
	StateConnecting
	StateCalibrating
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForServices:
		return "waiting_for_services"
	case StateConnecting:
		return "connecting"
	case StateCalibrating:
		return "calibrating"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures the switching loop
type Config struct {
	FrontSource         string
	BackSource          string
	Threshold           float64 // Degrees either side of zero that count as front
	Interval            time.Duration
	RequiredProcesses   []string
	ProcessPollInterval time.Duration
	Origin              tracking.Origin
	FollowScene         bool // Adopt program scene switches instead of keeping the startup scene
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		FrontSource:         "Front Camera",
		BackSource:          "Back Camera",
		Threshold:           30,
		Interval:            100 * time.Millisecond,
		ProcessPollInterval: time.Second,
		Origin:              tracking.OriginStanding,
	}
}

// SceneDialer opens a scene-control session
type SceneDialer func(ctx context.Context) (scene.Provider, error)

// SceneWatcher is implemented by scene providers that report program scene switches
type SceneWatcher interface {
	OnProgramSceneChanged(func(sceneName string))
}

// Deps are the external collaborators of the switcher
type Deps struct {
	Tracking  tracking.Provider
	DialScene SceneDialer
	Processes procwait.Lister
	Confirmer calibration.Confirmer
}

// Result is the outcome of one valid tick
type Result struct {
	Heading   float64   `json:"heading"`
	Relative  float64   `json:"relative"`
	Front     bool      `json:"front"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// Switcher polls the HMD heading and keeps the matching source visible
type Switcher struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	heading func(orientation.Matrix34) float64

	sceneChanges chan string
	invalidLog   rate.Sometimes
	errorLog     rate.Sometimes

	// Owned by the Run goroutine
	controller *scene.Controller

	mu       sync.RWMutex
	state    State
	hmdIndex int
	zero     float64
	scene    string
	visible  string
	latest   Result

	// Metrics
	pollCount      int64
	invalidPoses   int64
	trackingErrors int64
	toggles        int64
	toggleFailures int64

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Result]struct{}
}

// New creates a switcher; Run drives it
func New(cfg Config, deps Deps, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Switcher{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		heading:      orientation.Heading,
		sceneChanges: make(chan string, 1),
		invalidLog:   rate.Sometimes{Interval: time.Second},
		errorLog:     rate.Sometimes{Interval: time.Second},
		hmdIndex:     -1,
		subs:         make(map[chan Result]struct{}),
	}
}

// Run waits for services, connects, calibrates and then polls until ctx is
// cancelled. Both sessions are released before Run returns.
func (s *Switcher) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	s.setState(StateWaitingForServices)
	if err := procwait.Wait(ctx, s.deps.Processes, s.cfg.RequiredProcesses, s.cfg.ProcessPollInterval, s.logger); err != nil {
		return err
	}

	s.setState(StateConnecting)
	provider, err := s.connect(ctx)
	defer s.release(provider)
	if err != nil {
		return err
	}

	s.setState(StateCalibrating)
	if err := s.deps.Confirmer.Confirm(ctx); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	zero, err := s.calibrate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.zero = zero
	s.mu.Unlock()

	s.logger.Info("calibrated", "zero_heading", zero)

	s.setState(StateRunning)
	s.logger.Info("switcher started",
		"interval", s.cfg.Interval,
		"threshold", s.cfg.Threshold,
		"front", s.cfg.FrontSource,
		"back", s.cfg.BackSource,
		"tracking", s.deps.Tracking.Name(),
	)

	for {
		s.tick(ctx)

		if err := sleep(ctx, s.cfg.Interval); err != nil {
			st := s.Stats()
			s.logger.Info("switcher stopped",
				"polls", st.PollCount,
				"toggles", st.Toggles,
				"invalid_poses", st.InvalidPoses,
			)
			return err
		}
	}
}

// connect opens the tracking session, finds the HMD and opens the scene
// session. The tracking session is initialised even when an error is
// returned, so callers must always release.
func (s *Switcher) connect(ctx context.Context) (scene.Provider, error) {
	s.logger.Info("initializing tracking", "provider", s.deps.Tracking.Name())
	if err := s.deps.Tracking.Init(ctx); err != nil {
		return nil, fmt.Errorf("init tracking: %w", err)
	}

	hmd, err := tracking.FindHMD(s.deps.Tracking)
	if err != nil {
		return nil, err
	}
	s.logger.Info("found HMD", "index", hmd)

	provider, err := s.deps.DialScene(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect scene control: %w", err)
	}

	name, err := provider.CurrentScene(ctx)
	if err != nil {
		return provider, fmt.Errorf("get current scene: %w", err)
	}
	s.logger.Info("using scene", "scene", name)

	if s.cfg.FollowScene {
		if w, ok := provider.(SceneWatcher); ok {
			w.OnProgramSceneChanged(s.notifySceneChange)
		} else {
			s.logger.Warn("scene provider cannot report scene switches, keeping startup scene")
		}
	}

	s.controller = scene.NewController(provider, s.logger)

	s.mu.Lock()
	s.hmdIndex = hmd
	s.scene = name
	s.mu.Unlock()

	return provider, nil
}

// release shuts the tracking session then the scene session
func (s *Switcher) release(provider scene.Provider) {
	if err := s.deps.Tracking.Shutdown(); err != nil {
		s.logger.Warn("tracking shutdown error", "error", err)
	}

	if provider != nil {
		if err := provider.Close(); err != nil {
			s.logger.Warn("scene control close error", "error", err)
		}
	}
}

// calibrate samples until a valid HMD pose arrives and returns its heading
func (s *Switcher) calibrate(ctx context.Context) (float64, error) {
	for attempt := 1; ; attempt++ {
		pose, err := s.sample(ctx)
		switch {
		case err != nil:
			s.logger.Warn("calibration sample failed, retrying", "attempt", attempt, "error", err)
		case !pose.Valid:
			s.logger.Warn("calibration pose invalid, retrying", "attempt", attempt)
		default:
			return s.heading(pose.DeviceToAbsolute), nil
		}

		if err := sleep(ctx, s.cfg.Interval); err != nil {
			return 0, fmt.Errorf("calibration: %w", err)
		}
	}
}

// sample returns the current HMD pose
func (s *Switcher) sample(ctx context.Context) (orientation.Pose, error) {
	poses, err := s.deps.Tracking.Poses(ctx, s.cfg.Origin)
	if err != nil {
		return orientation.Pose{}, err
	}

	s.mu.RLock()
	idx := s.hmdIndex
	s.mu.RUnlock()

	if idx < 0 || idx >= len(poses) {
		return orientation.Pose{}, fmt.Errorf("HMD index %d outside %d poses", idx, len(poses))
	}
	return poses[idx], nil
}

func (s *Switcher) tick(ctx context.Context) {
	s.applySceneChange()

	s.mu.Lock()
	s.pollCount++
	s.mu.Unlock()

	pose, err := s.sample(ctx)
	if err != nil {
		s.mu.Lock()
		s.trackingErrors++
		s.mu.Unlock()
		s.errorLog.Do(func() {
			s.logger.Warn("pose query failed", "error", err)
		})
		return
	}

	if !pose.Valid {
		s.mu.Lock()
		s.invalidPoses++
		s.mu.Unlock()
		s.invalidLog.Do(func() {
			s.logger.Debug("HMD pose invalid, skipping")
		})
		return
	}

	s.mu.RLock()
	zero, sceneName, visible := s.zero, s.scene, s.visible
	s.mu.RUnlock()

	heading := s.heading(pose.DeviceToAbsolute)
	relative := orientation.Relative(heading, zero)
	front := orientation.IsFront(relative, s.cfg.Threshold)

	target, other := s.cfg.BackSource, s.cfg.FrontSource
	if front {
		target, other = s.cfg.FrontSource, s.cfg.BackSource
	}

	if target != visible {
		s.logger.Info("switching source",
			"relative_heading", relative,
			"show", target,
			"hide", other,
		)

		ok := s.controller.Show(ctx, sceneName, target, other)

		s.mu.Lock()
		s.visible = target
		s.toggles++
		if !ok {
			s.toggleFailures++
		}
		s.mu.Unlock()
	}

	result := Result{
		Heading:   heading,
		Relative:  relative,
		Front:     front,
		Target:    target,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	s.notifySubscribers(result)
}

// notifySceneChange keeps only the newest pending scene name
func (s *Switcher) notifySceneChange(name string) {
	for {
		select {
		case s.sceneChanges <- name:
			return
		default:
		}
		select {
		case <-s.sceneChanges:
		default:
		}
	}
}

func (s *Switcher) applySceneChange() {
	select {
	case name := <-s.sceneChanges:
		s.mu.Lock()
		changed := name != "" && name != s.scene
		if changed {
			s.scene = name
			s.visible = ""
		}
		s.mu.Unlock()

		if changed {
			s.logger.Info("program scene changed", "scene", name)
		}
	default:
	}
}

func (s *Switcher) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug("state change", "from", prev.String(), "to", state.String())
	}
}

func (s *Switcher) notifySubscribers(result Result) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- result:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives tick results
func (s *Switcher) Subscribe() chan Result {
	ch := make(chan Result, 10)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (s *Switcher) Unsubscribe(ch chan Result) {
	s.subsMu.Lock()
	if _, exists := s.subs[ch]; exists {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// State returns the current lifecycle state
func (s *Switcher) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetLatest returns the most recent tick result
func (s *Switcher) GetLatest() Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Stats returns switcher statistics
func (s *Switcher) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.subsMu.RLock()
	subscribers := len(s.subs)
	s.subsMu.RUnlock()

	return Stats{
		State:           s.state.String(),
		Scene:           s.scene,
		HMDIndex:        s.hmdIndex,
		ZeroHeading:     s.zero,
		Visible:         s.visible,
		PollCount:       s.pollCount,
		InvalidPoses:    s.invalidPoses,
		TrackingErrors:  s.trackingErrors,
		Toggles:         s.toggles,
		ToggleFailures:  s.toggleFailures,
		SubscriberCount: subscribers,
		Heading:         s.latest.Heading,
		Relative:        s.latest.Relative,
		Front:           s.latest.Front,
	}
}

// Stats contains switcher statistics
type Stats struct {
	State           string  `json:"state"`
	Scene           string  `json:"scene"`
	HMDIndex        int     `json:"hmd_index"`
	ZeroHeading     float64 `json:"zero_heading"`
	Visible         string  `json:"visible"`
	PollCount       int64   `json:"poll_count"`
	InvalidPoses    int64   `json:"invalid_poses"`
	TrackingErrors  int64   `json:"tracking_errors"`
	Toggles         int64   `json:"toggles"`
	ToggleFailures  int64   `json:"toggle_failures"`
	SubscriberCount int     `json:"subscriber_count"`
	Heading         float64 `json:"heading"`
	Relative        float64 `json:"relative"`
	Front           bool    `json:"front"`
}

// Stop closes all subscriber channels; cancel the Run context to stop polling
func (s *Switcher) Stop() {
	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()
}

// IsStopped reports whether Run has returned
func (s *Switcher) IsStopped() bool {
	return s.State() == StateStopped
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsShutdown reports whether err only signals a requested shutdown
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
