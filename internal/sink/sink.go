package sink

import (
	"context"
	"encoding/json"
)

//go:generate mockgen -source=sink.go -destination=./mocks/mock_sink.go -package=mocks

// Blob is one named upload: a window's records serialized as a JSON array.
type Blob struct {
	Key         string
	Name        string
	ContentType string
	Body        []byte
	Records     int
}

// Response is what the remote endpoint answered.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports whether the endpoint accepted the upload.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Sink submits blobs to a remote endpoint. An error means the endpoint
// could not be reached or the exchange failed before a response was read.
type Sink interface {
	Upload(ctx context.Context, b Blob) (Response, error)
}
