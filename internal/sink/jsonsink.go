package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// JSONSink writes every upload as a single JSON line to an io.Writer.
// It stands in for a remote endpoint when none is configured.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer

	nowFn func() time.Time
}

type jsonLine struct {
	Key     string          `json:"key"`
	Name    string          `json:"name"`
	Size    int             `json:"size"`
	Count   int             `json:"count"`
	Records json.RawMessage `json:"records"`
}

type jsonAck struct {
	Success   bool   `json:"success"`
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
}

// NewJSONSink creates a JSON sink writing to the provided writer.
func NewJSONSink(w io.Writer) *JSONSink { return &JSONSink{w: w, nowFn: time.Now} }

// NewStdoutJSON returns a JSON sink that writes to os.Stdout.
func NewStdoutJSON() *JSONSink { return NewJSONSink(os.Stdout) }

// Upload encodes the blob with a trailing newline and acknowledges it.
func (s *JSONSink) Upload(_ context.Context, b Blob) (Response, error) {
	line := jsonLine{Key: b.Key, Name: b.Name, Size: len(b.Body), Count: b.Records, Records: b.Body}
	if !json.Valid(b.Body) {
		// keep the line decodable even for a body that is not JSON
		quoted, _ := json.Marshal(string(b.Body))
		line.Records = quoted
	}

	s.mu.Lock()
	err := json.NewEncoder(s.w).Encode(line)
	s.mu.Unlock()

	if err != nil {
		return Response{}, err
	}

	ack, err := json.Marshal(jsonAck{Success: true, Key: b.Key, Timestamp: s.nowFn().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return Response{}, err
	}

	return Response{StatusCode: 200, Body: ack}, nil
}
