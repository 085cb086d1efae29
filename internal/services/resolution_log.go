package services

import (
	"sync"
	"time"

	"github.com/irfndi/leadgen-insights/internal/models"
)

const defaultResolutionLogCapacity = 100

// ResolutionLog is a bounded ring buffer of recent resolution decisions.
// When full, the oldest decision is overwritten.
type ResolutionLog struct {
	mu       sync.Mutex
	entries  []models.ResolutionDecision
	next     int
	size     int
	capacity int
}

// NewResolutionLog creates a log holding at most capacity decisions.
func NewResolutionLog(capacity int) *ResolutionLog {
	if capacity <= 0 {
		capacity = defaultResolutionLogCapacity
	}
	return &ResolutionLog{
		entries:  make([]models.ResolutionDecision, capacity),
		capacity: capacity,
	}
}

// Record appends a decision derived from a resolution.
func (l *ResolutionLog) Record(res Resolution, at time.Time) {
	l.Append(models.ResolutionDecision{
		Timestamp:  at,
		Capability: res.Capability,
		Mode:       string(res.Mode),
		Reason:     res.Reason,
	})
}

// Append adds a decision.
func (l *ResolutionLog) Append(d models.ResolutionDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = d
	l.next = (l.next + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
}

// Snapshot returns the retained decisions, oldest first.
func (l *ResolutionLog) Snapshot() []models.ResolutionDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ResolutionDecision, 0, l.size)
	start := (l.next - l.size + l.capacity) % l.capacity
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(start+i)%l.capacity])
	}
	return out
}

// Len returns the number of retained decisions.
func (l *ResolutionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity returns the maximum number of retained decisions.
func (l *ResolutionLog) Capacity() int {
	return l.capacity
}
