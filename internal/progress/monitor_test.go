package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddIgnoresNonPositive(t *testing.T) {
	m := NewMonitor(1000)
	m.Add(0)
	m.Add(-100)
	assert.Equal(t, int64(0), m.Downloaded())

	m.Add(250)
	assert.Equal(t, int64(250), m.Downloaded())
}

func TestSnapshotPercent(t *testing.T) {
	m := NewMonitor(1000)
	m.Add(250)
	info := m.Snapshot()
	assert.Equal(t, int64(1000), info.TotalBytes)
	assert.Equal(t, int64(250), info.DownloadedBytes)
	assert.InDelta(t, 25.0, info.Percent, 0.001)
}

func TestSnapshotUnknownTotal(t *testing.T) {
	m := NewMonitor(0)
	m.Add(500)
	info := m.Snapshot()
	assert.Equal(t, 0.0, info.Percent)
	assert.Equal(t, int64(-1), info.RemainingSeconds)
}

func TestSpeedNeedsTwoSamples(t *testing.T) {
	m := NewMonitor(1000)
	m.Add(100)
	info := m.Snapshot()
	assert.Equal(t, 0.0, info.SpeedBytesPerSec)
	assert.Equal(t, int64(-1), info.RemainingSeconds)
}

func TestSpeedOverWindow(t *testing.T) {
	m := NewMonitor(10000)
	m.Add(1000)
	time.Sleep(100 * time.Millisecond)
	m.Add(1000)
	time.Sleep(100 * time.Millisecond)
	m.Add(1000)

	info := m.Snapshot()
	assert.Greater(t, info.SpeedBytesPerSec, 0.0)
	// 2000 bytes across ~200ms of sampled window
	assert.InDelta(t, 10000, info.SpeedBytesPerSec, 8000)
	assert.GreaterOrEqual(t, info.RemainingSeconds, int64(0))
}

func TestConcurrentAdds(t *testing.T) {
	m := NewMonitor(100000)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.Add(10)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int64(8000), m.Downloaded())
}
