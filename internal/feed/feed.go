// Package feed adapts inbound event sources to the ingest buffer.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"dash0.com/window-drain-backend/internal/store"
)

// Appender receives one record at a time with its arrival time.
// Implementations must not block the caller.
type Appender interface {
	Append(rec store.Record, arrival time.Time)
}

// Parse validates one payload. Invalid JSON and JSON null are not data.
func Parse(raw []byte) (store.Record, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, false
	}

	if bytes.Equal(raw, []byte("null")) {
		return nil, false
	}

	buf := new(bytes.Buffer)
	if err := json.Compact(buf, raw); err != nil {
		return nil, false
	}

	return store.Record(buf.Bytes()), true
}

// ReadStream hands every JSON value in r to fn, in order. Values may be
// newline-delimited, concatenated or a single document spanning many lines.
// A value that does not parse is counted as malformed and reading resumes on
// the line after the one it started on. err reports only read failures.
func ReadStream(r io.Reader, fn func(store.Record)) (accepted, malformed int, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, 0, err
	}

	// base is where dec started reading in data
	base := 0
	dec := json.NewDecoder(bytes.NewReader(data))

	for {
		start := base + int(dec.InputOffset())
		start += len(data[start:]) - len(bytes.TrimLeft(data[start:], " \t\r\n"))

		var raw json.RawMessage

		if derr := dec.Decode(&raw); derr != nil {
			if errors.Is(derr, io.EOF) {
				return accepted, malformed, nil
			}

			malformed++

			nl := bytes.IndexByte(data[start:], '\n')
			if nl < 0 {
				return accepted, malformed, nil
			}

			base = start + nl + 1
			dec = json.NewDecoder(bytes.NewReader(data[base:]))

			continue
		}

		rec, ok := Parse(raw)
		if !ok {
			malformed++
			continue
		}

		fn(rec)
		accepted++
	}
}
