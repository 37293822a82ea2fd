package app

// RunningTimers reports how many session timers the service still tracks.
func (s *ExamService) RunningTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
