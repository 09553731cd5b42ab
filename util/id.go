package util

import (
	"sync"

	"github.com/segmentio/ksuid"
)

var (
	idMu   sync.Mutex
	lastID ksuid.KSUID
)

// NewID returns a ksuid string that sorts after every id previously returned by this process. Ids created within
// the same second are ordered by incrementing the payload of the previous id.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id := ksuid.New()
	if ksuid.Compare(id, lastID) <= 0 {
		id = lastID.Next()
	}
	lastID = id
	return id.String()
}
