package engine

import (
	"sync"
	"time"

	"socialpulse.app/autopilot/internal/model"
)

// State is the in-memory AutomationState. The in-flight cycle is its only
// writer for queue and error fields; stats and config are additionally read
// by the operator surface, hence the lock.
type State struct {
	mu sync.RWMutex

	lastCheckTime *time.Time
	stats         model.Stats
	config        model.AutomationConfig

	// Cycle-scoped. Cleared at the start of each cycle, never persisted.
	pending []model.Comment
	errors  []model.ErrorRecord

	// In-memory dedup tier. The durable store is authoritative; this cache
	// just saves round trips within a process lifetime.
	processed map[string]struct{}
}

func NewState(cfg model.AutomationConfig) *State {
	return &State{
		config:    cfg,
		processed: make(map[string]struct{}),
	}
}

func (s *State) Config() model.AutomationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *State) UpdateConfig(fn func(cfg *model.AutomationConfig)) model.AutomationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.config)
	return s.config
}

func (s *State) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *State) AddStats(fn func(st *model.Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

func (s *State) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = model.Stats{}
}

func (s *State) LastCheckTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheckTime
}

func (s *State) SetLastCheckTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckTime = &t
}

// Restore applies a durable snapshot. Queue and cycle errors are not part of
// a snapshot; they are rebuilt by the next detection pass.
func (s *State) Restore(snapshot *model.AutomationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = snapshot.Stats
	s.lastCheckTime = snapshot.LastCheckTime
	if snapshot.Config.PollInterval > 0 {
		s.config = snapshot.Config
	}
}

// Snapshot produces the durable view of the state. running is owned by the
// scheduler and passed in.
func (s *State) Snapshot(running bool) *model.AutomationSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &model.AutomationSnapshot{
		Running:       running,
		LastCheckTime: s.lastCheckTime,
		Stats:         s.stats,
		Config:        s.config,
	}
}

// --- cycle-scoped queue -----------------------------------------------------

func (s *State) BeginCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.errors = nil
}

func (s *State) Enqueue(c model.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, c)
}

// TruncatePending bounds single-cycle cost, keeping oldest-fetched-first
// order.
func (s *State) TruncatePending(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && len(s.pending) > max {
		s.pending = s.pending[:max]
	}
}

func (s *State) PeekPending() (model.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.pending) == 0 {
		return model.Comment{}, false
	}
	return s.pending[0], true
}

func (s *State) PopPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
}

func (s *State) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func (s *State) RecordError(rec model.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, rec)
}

func (s *State) LastError() (model.ErrorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.errors) == 0 {
		return model.ErrorRecord{}, false
	}
	return s.errors[len(s.errors)-1], true
}

// --- in-memory dedup tier ---------------------------------------------------

func (s *State) MarkProcessedLocal(commentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[commentID] = struct{}{}
}

func (s *State) IsProcessedLocal(commentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[commentID]
	return ok
}

func (s *State) ProcessedLocalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processed)
}
