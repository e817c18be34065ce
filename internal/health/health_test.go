package health

import (
	"sync/atomic"
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentTracking, true, "vmc")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	tracking, ok := status.Components[ComponentTracking]
	if !ok {
		t.Fatal("expected tracking component")
	}

	if !tracking.Healthy {
		t.Error("expected tracking to be healthy")
	}

	if tracking.Message != "vmc" {
		t.Errorf("expected message 'vmc', got %s", tracking.Message)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentTracking, true, "ok")
	checker.SetComponent(ComponentSceneControl, false, "disconnected")

	status := checker.GetStatus()

	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}

	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_Unhealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentTracking, false, "no HMD")
	checker.SetComponent(ComponentSceneControl, false, "disconnected")

	if status := checker.GetStatus(); status.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	// Start unhealthy
	checker.SetComponent(ComponentSceneControl, false, "error")

	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	// Recover
	checker.SetComponent(ComponentSceneControl, true, "recovered")

	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}

func TestChecker_LiveCheck(t *testing.T) {
	checker := NewChecker("1.0.0")

	var connected atomic.Bool
	checker.AddCheck(ComponentSceneControl, func() (bool, string) {
		if connected.Load() {
			return true, "connected"
		}
		return false, "not connected"
	})
	checker.SetComponent(ComponentTracking, true, "")

	status := checker.GetStatus()
	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}
	if msg := status.Components[ComponentSceneControl].Message; msg != "not connected" {
		t.Errorf("expected check message, got %q", msg)
	}

	connected.Store(true)

	if !checker.IsHealthy() {
		t.Error("expected healthy once the check recovers")
	}
}

func TestChecker_MultipleComponents(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent(ComponentTracking, true, "")
	checker.SetComponent(ComponentSceneControl, true, "")
	checker.SetComponent(ComponentSwitcher, true, "")

	status := checker.GetStatus()

	if len(status.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(status.Components))
	}

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}
