// Package ntp converts between time.Time and the 64-bit NTP timestamps of RTCP sender reports.
package ntp

import (
	"time"
)

// seconds between 1900-01-01 and 1970-01-01.
const epochOffset = 2208988800

// Encode converts a time into a NTP timestamp (RFC 3550, section 4).
func Encode(t time.Time) uint64 {
	secs := uint64(t.Unix()) + epochOffset
	nanos := uint64(t.Nanosecond())
	frac := ((nanos << 32) + 500000000) / 1000000000
	return secs<<32 | frac
}

// Decode converts a NTP timestamp into a time.
func Decode(v uint64) time.Time {
	secs := int64(v>>32) - epochOffset
	nanos := ((v&0xFFFFFFFF)*1000000000 + (1 << 31)) >> 32
	return time.Unix(secs, int64(nanos))
}
