// Package randomrange draws bounded pseudo-random integers from a source that is safe to share between goroutines.
package randomrange

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/goldensignals/internal/common/signalerrors"
)

// lockedSource is a rand.Source guarded by a mutex.
type lockedSource struct {
	lk  sync.Mutex
	src rand.Source
}

func (r *lockedSource) Int63() (n int64) {
	r.lk.Lock()
	n = r.src.Int63()
	r.lk.Unlock()
	return
}

func (r *lockedSource) Seed(seed int64) {
	r.lk.Lock()
	r.src.Seed(seed)
	r.lk.Unlock()
}

type Generator struct {
	rand *rand.Rand
}

// New returns a generator over src. Access to src is serialised, so src itself need not be threadsafe.
func New(src rand.Source) *Generator {
	return &Generator{rand: rand.New(&lockedSource{src: src})}
}

// NewSeeded returns a generator whose sequence is fully determined by seed.
// A zero seed means seed from the current time.
func NewSeeded(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return New(rand.NewSource(seed))
}

// Draw returns a uniformly distributed integer in [min, max]. Both bounds are inclusive.
func (g *Generator) Draw(min, max int) (int, error) {
	if min >= max {
		return 0, errors.WithStack(&signalerrors.ErrInvalidRange{Min: min, Max: max})
	}
	return g.rand.Intn(max-min+1) + min, nil
}
