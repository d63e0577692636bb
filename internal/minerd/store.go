package minerd

import (
	"sync"

	"github.com/aumai/policyminer/internal/mine"
)

// LogStore keeps ingested behavior logs in memory for daemon-mode mining.
// Appends and snapshots may race from handler goroutines, so every access
// holds the mutex; snapshots copy so extraction never sees a slice that a
// concurrent append is growing.
type LogStore struct {
	mu   sync.RWMutex
	logs []mine.BehaviorLog
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

// Append stores the accepted logs and returns the new total.
func (s *LogStore) Append(logs []mine.BehaviorLog) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return len(s.logs)
}

// Snapshot returns a copy of the stored logs.
func (s *LogStore) Snapshot() []mine.BehaviorLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mine.BehaviorLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Count reports how many logs are stored.
func (s *LogStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
