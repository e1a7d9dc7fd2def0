package settlement

import "sync"

// StreakTracker counts consecutive winning rounds per account
type StreakTracker struct {
	mu      sync.Mutex
	streaks map[string]int
}

// NewStreakTracker creates an empty tracker
func NewStreakTracker() *StreakTracker {
	return &StreakTracker{streaks: make(map[string]int)}
}

// Get returns the current win streak of an account
func (s *StreakTracker) Get(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[accountID]
}

// Record extends the streak on a win and clears it otherwise
func (s *StreakTracker) Record(accountID string, won bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won {
		s.streaks[accountID]++
		return
	}
	delete(s.streaks, accountID)
}
