package progress

import (
	"sync"
	"time"
)

const windowSize = 5 * time.Second

type sample struct {
	at    time.Time
	bytes int64
}

// Info is a point-in-time progress snapshot.
type Info struct {
	TotalBytes       int64
	DownloadedBytes  int64
	SpeedBytesPerSec float64
	RemainingSeconds int64 // -1 when speed is unknown
	Percent          float64
}

// Monitor accumulates byte deltas and derives a sliding-window speed.
type Monitor struct {
	mu         sync.Mutex
	total      int64
	downloaded int64
	samples    []sample
}

func NewMonitor(totalBytes int64) *Monitor {
	return &Monitor{total: totalBytes}
}

// Add records a byte delta; non-positive deltas are ignored.
func (m *Monitor) Add(bytes int64) {
	if bytes <= 0 {
		return
	}
	m.mu.Lock()
	m.downloaded += bytes
	m.samples = append(m.samples, sample{at: time.Now(), bytes: m.downloaded})
	m.mu.Unlock()
}

func (m *Monitor) Downloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloaded
}

// Snapshot discards samples older than the window and computes speed
// from the oldest and newest remaining samples.
func (m *Monitor) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		TotalBytes:       m.total,
		DownloadedBytes:  m.downloaded,
		RemainingSeconds: -1,
	}
	if m.total > 0 {
		info.Percent = float64(m.downloaded) / float64(m.total) * 100.0
	}

	cutoff := time.Now().Add(-windowSize)
	trim := 0
	for trim < len(m.samples) && m.samples[trim].at.Before(cutoff) {
		trim++
	}
	m.samples = m.samples[trim:]

	if len(m.samples) >= 2 {
		oldest := m.samples[0]
		newest := m.samples[len(m.samples)-1]
		elapsed := newest.at.Sub(oldest.at).Seconds()
		if elapsed > 0 {
			info.SpeedBytesPerSec = float64(newest.bytes-oldest.bytes) / elapsed
		}
	}

	if info.SpeedBytesPerSec > 0 {
		info.RemainingSeconds = int64(float64(m.total-m.downloaded) / info.SpeedBytesPerSec)
	}
	return info
}
