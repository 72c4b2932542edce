package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBody caps how much of a response body is kept as LastResponse.
const maxResponseBody = 1 << 20

// HTTPSink posts blobs as multipart/form-data with a "file" part and a "key" field.
type HTTPSink struct {
	url    string
	client *http.Client
}

// HTTPOption customises an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) { s.client = c }
}

// NewHTTPSink returns a sink posting to url. timeout bounds a whole exchange.
func NewHTTPSink(url string, timeout time.Duration, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// URL returns the endpoint uploads are posted to.
func (s *HTTPSink) URL() string { return s.url }

func (s *HTTPSink) Upload(ctx context.Context, b Blob) (Response, error) {
	body, contentType, err := encodeMultipart(b)
	if err != nil {
		return Response{}, fmt.Errorf("encode upload %s: %w", b.Key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return Response{}, fmt.Errorf("build upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("X-Window-Key", b.Key)
	req.Header.Set("X-Record-Count", strconv.Itoa(b.Records))

	res, err := s.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("upload %s: %w", b.Key, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return Response{StatusCode: res.StatusCode}, fmt.Errorf("read upload response %s: %w", b.Key, err)
	}

	return Response{StatusCode: res.StatusCode, Body: asJSON(raw)}, nil
}

func encodeMultipart(b Blob) (io.Reader, string, error) {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)

	contentType := b.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, b.Name))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}

	if _, err := part.Write(b.Body); err != nil {
		return nil, "", err
	}

	if err := mw.WriteField("key", b.Key); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return buf, mw.FormDataContentType(), nil
}

// asJSON keeps JSON bodies verbatim and wraps anything else as a JSON string.
func asJSON(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if json.Valid(raw) {
		return json.RawMessage(raw)
	}

	quoted, _ := json.Marshal(string(raw))

	return quoted
}
