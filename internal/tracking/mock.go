package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/vr-obs-switcher/internal/orientation"
)

// MockProvider is an in-process tracking provider for testing and demos
type MockProvider struct {
	mu           sync.Mutex
	hmdIndex     int
	yaw          float64
	valid        bool
	simulateWave bool
	startTime    time.Time
	initialized  bool
	polls        int
	err          error
}

// NewMockProvider creates a mock with an HMD in slot 0 facing forward
func NewMockProvider() *MockProvider {
	return &MockProvider{
		valid:     true,
		startTime: time.Now(),
	}
}

// NewMockProviderWithWave creates a mock whose HMD slowly turns around
func NewMockProviderWithWave() *MockProvider {
	m := NewMockProvider()
	m.simulateWave = true
	return m
}

// Init marks the session open
func (m *MockProvider) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// DeviceClass reports an HMD at the configured slot and nothing else
func (m *MockProvider) DeviceClass(index int) DeviceClass {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hmdIndex >= 0 && index == m.hmdIndex {
		return ClassHMD
	}
	return ClassInvalid
}

// Poses returns the HMD pose at its slot and invalid poses elsewhere
func (m *MockProvider) Poses(ctx context.Context, origin Origin) ([]orientation.Pose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.err != nil {
		return nil, m.err
	}

	yaw := m.yaw
	if m.simulateWave {
		// Full turn every ~25s
		elapsed := time.Since(m.startTime).Seconds()
		yaw = 180 * math.Sin(elapsed/4)
	}

	poses := make([]orientation.Pose, MaxDevices)
	if m.hmdIndex >= 0 && m.hmdIndex < MaxDevices {
		poses[m.hmdIndex] = orientation.Pose{
			DeviceToAbsolute: orientation.YawMatrix(yaw),
			Valid:            m.valid,
			Timestamp:        time.Now(),
		}
	}
	return poses, nil
}

// Shutdown closes the session
func (m *MockProvider) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

// Name returns the provider type name
func (m *MockProvider) Name() string {
	return "mock"
}

// SetYaw sets the HMD heading in degrees
func (m *MockProvider) SetYaw(deg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.yaw = deg
}

// SetValid sets whether the HMD pose is reported valid
func (m *MockProvider) SetValid(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = valid
}

// SetHMDIndex moves the HMD to another slot; negative removes it
func (m *MockProvider) SetHMDIndex(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hmdIndex = index
}

// SetError makes Poses fail with err until cleared with nil
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Initialized reports whether Init was called without a later Shutdown
func (m *MockProvider) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Polls returns how many times Poses was called
func (m *MockProvider) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}
