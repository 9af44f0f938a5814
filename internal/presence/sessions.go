package presence

import "sort"

// sessions holds per-user connection counts and listening sets. Unlike the
// identity cache nothing here is ever evicted; losing a counter would
// silently flip a user's presence. Callers hold Registry.mu.
type sessions struct {
	counters  map[string]int
	listening map[string]map[string]struct{}
}

func newSessions() *sessions {
	return &sessions{
		counters:  make(map[string]int),
		listening: make(map[string]map[string]struct{}),
	}
}

func (s *sessions) listen(subjectID, observerID string) {
	set, ok := s.listening[subjectID]
	if !ok {
		set = make(map[string]struct{})
		s.listening[subjectID] = set
	}
	set[observerID] = struct{}{}
}

func (s *sessions) listeners(userID string) []string {
	set := s.listening[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
