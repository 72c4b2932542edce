// Package windowkey maps arrival times to the coarse 30-second buckets
// used as durable window identifiers.
package windowkey

import (
	"fmt"
	"time"
)

// Granularity is the width of one window bucket.
const Granularity = 30 * time.Second

// KeyFor returns the window key of t's bucket.
//
// Keys are UTC and zero-padded (YYYY-MM-DD-HH-MM-SS, SS being 00 or 30), so
// two instants share a key iff they share a bucket and comparing keys as
// strings orders them chronologically, across DST changes included.
func KeyFor(t time.Time) string {
	b := Bucket(t)

	return fmt.Sprintf("%04d-%02d-%02d-%02d-%02d-%02d",
		b.Year(), int(b.Month()), b.Day(), b.Hour(), b.Minute(), b.Second())
}

// Bucket returns the start of t's 30-second bucket in UTC.
func Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(Granularity)
}

// Parse returns the UTC bucket start encoded by key.
func Parse(key string) (time.Time, error) {
	var y, mo, d, h, mi, s int
	if _, err := fmt.Sscanf(key, "%04d-%02d-%02d-%02d-%02d-%02d", &y, &mo, &d, &h, &mi, &s); err != nil {
		return time.Time{}, fmt.Errorf("parse window key %q: %w", key, err)
	}

	if s != 0 && s != 30 {
		return time.Time{}, fmt.Errorf("parse window key %q: second bucket %d is not 0 or 30", key, s)
	}

	return time.Date(y, time.Month(mo), d, h, mi, s, 0, time.UTC), nil
}
