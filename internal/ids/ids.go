// Package ids generates identifiers for governance records: audit events,
// roles and permission rows. ULIDs keep the audit table naturally ordered by
// creation time, which is how it is queried.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. The shared entropy
// source is monotonic, so ids minted in the same millisecond still sort in
// issue order.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
