package cache

/*
Helpers shared by the backing stores, which all keep the refresh
deadline in front of the value.
*/

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

const (
	// The minimum expiry given to an entry.
	MinExpiry = time.Hour
)

// GracePeriodDeadline gives the expiry for an entry; longer than the
// refresh deadline, so there's time to refresh it before it goes.
func GracePeriodDeadline(refreshDeadline time.Time) time.Duration {
	expiry := time.Until(refreshDeadline) * 2
	if expiry < MinExpiry {
		expiry = MinExpiry
	}
	return expiry
}

func EndianCompose(deadlineBytes, value []byte) []byte {
	return append(deadlineBytes, value...)
}

func EndianPut(refreshDeadline time.Time) (deadlineBytes []byte) {
	deadlineBytes = make([]byte, 4)
	binary.BigEndian.PutUint32(deadlineBytes, uint32(refreshDeadline.Unix()))
	return
}

func EndianGet(cacheItem []byte) ([]byte, time.Time, error) {
	if len(cacheItem) < 4 {
		return nil, time.Time{}, errors.Errorf("cache item too short (%d bytes)", len(cacheItem))
	}
	deadlineTime := binary.BigEndian.Uint32(cacheItem)
	return cacheItem[4:], time.Unix(int64(deadlineTime), 0), nil
}
