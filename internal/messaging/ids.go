package messaging

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource issues ULIDs that sort in creation order, including within one millisecond.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}
}

func (s *idSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}
