package profile

import (
	"errors"

	"github.com/MrEthical07/goSession/daytime"
)

// Profile document field names.
const (
	FieldEmail               = "email"
	FieldDisplayName         = "displayName"
	FieldCreatedAt           = "createdAt"
	FieldTotalPoints         = "totalPoints"
	FieldActivitySeconds     = "activitySeconds"
	FieldActivitySessions    = "activitySessions"
	FieldDefaultsInitialized = "defaultsInitialized"
)

// Schedule hash field names.
const (
	FieldWakeTime  = "wakeTime"
	FieldSleepTime = "sleepTime"
)

var (
	// ErrNotFound is returned by writes that require an existing document.
	ErrNotFound = errors.New("profile document not found")
	// ErrInvalidFields is returned for empty field names or an empty batch.
	ErrInvalidFields = errors.New("invalid profile fields")
	// ErrScheduleIndexChanged is returned when schedules kept being added or
	// removed while a batch update was being applied.
	ErrScheduleIndexChanged = errors.New("schedule index changed during batch update")
)

// Fields is a flat set of document fields. Values are stored verbatim.
type Fields map[string]string

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Snapshot is one read of a profile document. Exists is false when the
// document is absent. Err is set only on snapshots delivered by a
// subscription whose read failed; the subscription stays open.
type Snapshot struct {
	ID     string
	Exists bool
	Fields Fields
	Err    error
}

// DaySchedule is the wake and sleep time planned for one calendar date.
type DaySchedule struct {
	Date      string
	WakeTime  daytime.TimeOfDay
	SleepTime daytime.TimeOfDay
}
