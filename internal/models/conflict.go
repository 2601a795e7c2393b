package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// conflictSeparator joins the original key and the archive timestamp
const conflictSeparator = "_CONFLICT_"

// ConflictRecord describes a local state archived before a remote overwrite
type ConflictRecord struct {
	Key         string    `json:"key"`
	Date        time.Time `json:"date"`
	OriginalKey string    `json:"originalKey"`
}

// ConflictEntry is a queued conflict: the record plus the archived state verbatim
type ConflictEntry struct {
	Record ConflictRecord   `json:"record"`
	State  *AssessmentState `json:"state"`
}

// NewConflictRecord builds a record for the original key archived at t
func NewConflictRecord(originalKey string, t time.Time) ConflictRecord {
	return ConflictRecord{
		Key:         fmt.Sprintf("%s%s%d", originalKey, conflictSeparator, t.UnixNano()),
		Date:        t,
		OriginalKey: originalKey,
	}
}

// ParseConflictKey splits an archive key into its original key and archive time
func ParseConflictKey(key string) (ConflictRecord, error) {
	idx := strings.LastIndex(key, conflictSeparator)
	if idx < 0 {
		return ConflictRecord{}, fmt.Errorf("not a conflict key: %s", key)
	}
	nanos, err := strconv.ParseInt(key[idx+len(conflictSeparator):], 10, 64)
	if err != nil {
		return ConflictRecord{}, fmt.Errorf("invalid conflict timestamp in %s: %w", key, err)
	}
	return ConflictRecord{
		Key:         key,
		Date:        time.Unix(0, nanos).UTC(),
		OriginalKey: key[:idx],
	}, nil
}
