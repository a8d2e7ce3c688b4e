package goSession

import (
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/profile"
)

// defaultProfileFields is a fresh profile document. createdAt is assigned by
// the store.
func defaultProfileFields(email string) DocumentFields {
	return DocumentFields{
		profile.FieldEmail:               email,
		profile.FieldDisplayName:         "",
		profile.FieldTotalPoints:         "0",
		profile.FieldActivitySeconds:     "0",
		profile.FieldActivitySessions:    "0",
		profile.FieldDefaultsInitialized: "false",
	}
}

// decodeProfile maps document fields to a UserProfile. Missing counters
// decode as zero; malformed values fail with *ProfileDecodeError.
func decodeProfile(uid string, fields DocumentFields) (*UserProfile, error) {
	p := &UserProfile{
		Email:       fields[profile.FieldEmail],
		DisplayName: fields[profile.FieldDisplayName],
	}

	var err error
	if p.CreatedAt, err = decodeTime(fields[profile.FieldCreatedAt]); err != nil {
		return nil, &ProfileDecodeError{UID: uid, Field: profile.FieldCreatedAt, Err: err}
	}
	counters := []struct {
		field string
		dst   *int64
	}{
		{profile.FieldTotalPoints, &p.TotalPoints},
		{profile.FieldActivitySeconds, &p.ActivitySeconds},
		{profile.FieldActivitySessions, &p.ActivitySessions},
	}
	for _, ctr := range counters {
		raw := strings.TrimSpace(fields[ctr.field])
		if raw == "" {
			continue
		}
		if *ctr.dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, &ProfileDecodeError{UID: uid, Field: ctr.field, Err: err}
		}
	}
	if raw := strings.TrimSpace(fields[profile.FieldDefaultsInitialized]); raw != "" {
		if p.DefaultsInitialized, err = strconv.ParseBool(raw); err != nil {
			return nil, &ProfileDecodeError{UID: uid, Field: profile.FieldDefaultsInitialized, Err: err}
		}
	}
	return p, nil
}

// decodeTime accepts unix seconds (as stamped by the store) or RFC 3339.
func decodeTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
