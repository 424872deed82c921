package metrics

import (
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.startTime.IsZero() {
		t.Error("Start time not set")
	}
}

func TestRecordPoll(t *testing.T) {
	m := NewMetrics()

	m.RecordPoll(true)
	m.RecordPoll(false)

	if m.TotalPolls != 2 {
		t.Errorf("Expected TotalPolls to be 2, got %d", m.TotalPolls)
	}
	if m.FailedPolls != 1 {
		t.Errorf("Expected FailedPolls to be 1, got %d", m.FailedPolls)
	}
	if m.LastPollUnix == 0 {
		t.Error("Expected LastPollUnix to be set")
	}
}

func TestRecordSetPointWrite(t *testing.T) {
	m := NewMetrics()

	m.RecordSetPointWrite(false)
	m.RecordSetPointWrite(true)

	if m.SetPointWrites != 2 {
		t.Errorf("Expected SetPointWrites to be 2, got %d", m.SetPointWrites)
	}
	if m.WatchdogRefreshes != 1 {
		t.Errorf("Expected WatchdogRefreshes to be 1, got %d", m.WatchdogRefreshes)
	}
}

func TestRecordReconnectAndVerifyFailure(t *testing.T) {
	m := NewMetrics()

	m.RecordReconnect()
	m.RecordVerifyFailure()
	m.RecordPartialRead()

	if m.Reconnects != 1 {
		t.Errorf("Expected Reconnects to be 1, got %d", m.Reconnects)
	}
	if m.VerifyFailures != 1 {
		t.Errorf("Expected VerifyFailures to be 1, got %d", m.VerifyFailures)
	}
	if m.PartialReads != 1 {
		t.Errorf("Expected PartialReads to be 1, got %d", m.PartialReads)
	}
}

func TestSessionMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordSessionStart()
	m.SetEnergyTotal(42.5)

	if m.SessionsStarted != 1 {
		t.Errorf("Expected SessionsStarted to be 1, got %d", m.SessionsStarted)
	}
	if m.EnergyTotalKWh != 42.5 {
		t.Errorf("Expected EnergyTotalKWh to be 42.5, got %f", m.EnergyTotalKWh)
	}
}

func TestUpdateSystemMetrics(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	m.UpdateSystemMetrics()

	if m.MemoryUsed == 0 {
		t.Error("Expected MemoryUsed to be greater than 0")
	}
	if m.GoroutineCount == 0 {
		t.Error("Expected GoroutineCount to be greater than 0")
	}
}

func TestGetMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordPoll(true)
	m.RecordSetPointWrite(false)

	snapshot := m.GetMetrics()

	polls := snapshot["polls"].(map[string]interface{})
	if polls["total"].(int64) != 1 {
		t.Errorf("Expected 1 poll in snapshot, got %v", polls["total"])
	}
	if _, ok := snapshot["set_point"]; !ok {
		t.Error("Expected set_point section in snapshot")
	}
	if _, ok := snapshot["system"]; !ok {
		t.Error("Expected system section in snapshot")
	}
}

func TestLastPollAge(t *testing.T) {
	m := NewMetrics()
	if m.LastPollAge() >= 0 {
		t.Error("Expected negative age before any poll")
	}

	m.RecordPoll(true)
	if m.LastPollAge() < 0 {
		t.Error("Expected non-negative age after a poll")
	}
}
