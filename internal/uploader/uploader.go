// Package uploader packages a window into a named blob and submits it to a sink.
//
// Send never fails: unreachable endpoints, timeouts and non-success statuses are
// folded into a rejected Outcome. Callers retire the window either way, which
// keeps the drain moving and storage bounded at the price of losing windows the
// sink refused.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gojson "github.com/goccy/go-json"

	"dash0.com/window-drain-backend/internal/sink"
	"dash0.com/window-drain-backend/internal/store"
)

// Outcome is the terminal result of one upload attempt.
type Outcome struct {
	Accepted   bool
	StatusCode int
	Response   json.RawMessage
	Latency    time.Duration
}

type Uploader struct {
	sink   sink.Sink
	delay  time.Duration
	logger *slog.Logger

	nowFn func() time.Time
}

// New returns an Uploader that waits delay before every attempt.
func New(s sink.Sink, delay time.Duration, logger *slog.Logger) *Uploader {
	return &Uploader{sink: s, delay: delay, logger: logger, nowFn: time.Now}
}

// EncodeRecords serializes records as a JSON array in order.
func EncodeRecords(records []store.Record) ([]byte, error) {
	if records == nil {
		records = []store.Record{}
	}

	return gojson.Marshal(records)
}

// BlobName is the file name a window is uploaded under.
func BlobName(key string) string { return key + ".json" }

// Send uploads w once and reports the outcome.
func (u *Uploader) Send(ctx context.Context, w store.Window) Outcome {
	if u.delay > 0 {
		t := time.NewTimer(u.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return rejected(ctx.Err(), 0)
		}
	}

	body, err := EncodeRecords(w.Records)
	if err != nil {
		u.logger.Error("failed to encode window", slog.String("key", w.Key), slog.String("err", err.Error()))
		return rejected(err, 0)
	}

	start := u.nowFn()
	resp, err := u.sink.Upload(ctx, sink.Blob{
		Key:         w.Key,
		Name:        BlobName(w.Key),
		ContentType: "application/json",
		Body:        body,
		Records:     len(w.Records),
	})
	latency := u.nowFn().Sub(start)

	if err != nil {
		u.logger.Error(
			"upload failed",
			slog.String("key", w.Key),
			slog.Int("records", len(w.Records)),
			slog.String("err", err.Error()),
			slog.String("sink", fmt.Sprintf("%T", u.sink)),
		)

		return rejected(err, latency)
	}

	if !resp.OK() {
		u.logger.Warn(
			"upload rejected",
			slog.String("key", w.Key),
			slog.Int("status", resp.StatusCode),
			slog.Int("records", len(w.Records)),
		)

		return Outcome{StatusCode: resp.StatusCode, Response: resp.Body, Latency: latency}
	}

	u.logger.Info(
		"upload accepted",
		slog.String("key", w.Key),
		slog.Int("status", resp.StatusCode),
		slog.Int("records", len(w.Records)),
		slog.Duration("latency", latency),
	)

	return Outcome{Accepted: true, StatusCode: resp.StatusCode, Response: resp.Body, Latency: latency}
}

func rejected(err error, latency time.Duration) Outcome {
	body, _ := gojson.Marshal(map[string]string{"error": err.Error()})
	return Outcome{Response: body, Latency: latency}
}
