package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// clientIDSuffixLen keeps generated MQTT client IDs within 23 characters for
// the default prefix, the limit MQTT 3.1 brokers may enforce.
const clientIDSuffixLen = 12

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewClientID returns prefix followed by the random tail of a fresh ULID.
func NewClientID(prefix string) string {
	id := strings.ToLower(CreateULID())
	suffix := id[len(id)-clientIDSuffixLen:]
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}
