package core

import (
	"fmt"
	"time"
)

// SetDeterministic replaces the clock and ID generator so tests can predict
// dataset and record identifiers. IDs are prefix-0, prefix-1, ...
func (s *Service) SetDeterministic(now time.Time, prefix string) {
	n := 0
	s.now = func() time.Time { return now }
	s.newID = func() string {
		id := fmt.Sprintf("%s-%d", prefix, n)
		n++
		return id
	}
}
