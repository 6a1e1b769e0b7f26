package session

import (
	"math/rand"
	"os"
	"sync"
	"time"
)

// challengeSource is the process-wide seeded PRNG used to generate
// authentication challenges: the seed is fixed once at process start and
// need not be cryptographically strong. One Rand is shared by every
// concurrently handled session, so access is serialized —
// math/rand.Rand itself keeps no goroutine-safety guarantee beyond the
// package-level functions, which we're deliberately not using since we want
// a single seed derived once at process start rather than the runtime's
// auto-seeded global source.
var challengeSource = struct {
	mu  sync.Mutex
	rnd *rand.Rand
}{
	rnd: rand.New(rand.NewSource(int64(os.Getpid()) ^ time.Now().UnixNano())),
}

// nextChallenge returns the next 16-byte authentication challenge.
func nextChallenge() [16]byte {
	challengeSource.mu.Lock()
	defer challengeSource.mu.Unlock()

	var c [16]byte
	challengeSource.rnd.Read(c[:])
	return c
}
