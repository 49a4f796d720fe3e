package tree

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Ref is the stable identifier of an instance. Refs are unique within
// a session and never reused, even after removal.
type Ref string

// NilRef is the absent identifier: the parent of the root, or a
// not-found result.
const NilRef Ref = ""

// refSource allocates session-unique refs. ULIDs are lexicographically
// sortable by allocation time, which makes logs and wire dumps easy to
// follow, and the monotonic reader guarantees uniqueness within a
// single millisecond.
type refSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newRefSource() *refSource {
	return &refSource{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *refSource) next() Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ref(ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String())
}
