package segments

import (
	"time"

	"github.com/VividCortex/ewma"
)

// minSampleInterval keeps bursts of completions from producing wild rate
// samples.
const minSampleInterval = 50 * time.Millisecond

// meter turns a running byte total into a smoothed transfer rate.
type meter struct {
	avg       ewma.MovingAverage
	lastBytes int64
	lastAt    time.Time
}

func newMeter(start time.Time) *meter {
	return &meter{avg: ewma.NewMovingAverage(), lastAt: start}
}

// observe records the total at now and returns the current rate in bytes
// per second.
func (m *meter) observe(total int64, now time.Time) float64 {
	if total < m.lastBytes {
		// The transfer restarted from the beginning.
		m.lastBytes, m.lastAt = total, now
		return m.avg.Value()
	}
	dt := now.Sub(m.lastAt)
	if dt < minSampleInterval {
		return m.avg.Value()
	}
	m.avg.Add(float64(total-m.lastBytes) / dt.Seconds())
	m.lastBytes, m.lastAt = total, now
	return m.avg.Value()
}
