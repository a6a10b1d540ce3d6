package tourid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the id families minted by this service.
const (
	TourPrefix    = "tour_"
	SessionPrefix = "sess_"
	JobPrefix     = "job_"
)

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

func newID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return prefix + strings.ToLower(id.String())
}

// NewTour returns a tour_* ULID string. Tour ids are durable content
// identifiers and never change after first publish.
func NewTour() string { return newID(TourPrefix) }

// NewSession returns a sess_* ULID string for one upload attempt.
func NewSession() string { return newID(SessionPrefix) }

// NewJob returns a job_* ULID string for one processing run.
func NewJob() string { return newID(JobPrefix) }

// IsValid reports whether value is a well-formed id with the given prefix.
func IsValid(value, prefix string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	_, err := ulid.Parse(strings.TrimPrefix(value, prefix))
	return err == nil
}
