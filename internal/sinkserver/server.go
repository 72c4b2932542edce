// Package sinkserver is a stand-in for the remote upload endpoint. It accepts
// multipart window uploads and acknowledges them with a simulated object path.
package sinkserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const maxUpload = 32 << 20

// DefaultMaxReceived is how many uploads a Server remembers by default.
const DefaultMaxReceived = 1000

// FileDetails describes the stored object.
type FileDetails struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	Type          string `json:"type"`
	Key           string `json:"key"`
	SimulatedPath string `json:"simulatedPath"`
}

// UploadResponse is the body of every upload reply.
type UploadResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
	FileDetails *FileDetails `json:"fileDetails,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// Server records the most recent accepted uploads in memory.
type Server struct {
	bucket      string
	logger      *slog.Logger
	nowFn       func() time.Time
	maxReceived int

	mu       sync.Mutex
	received []FileDetails
}

type Option func(*Server)

// WithMaxReceived bounds how many uploads are remembered; older ones are
// forgotten first. Values below 1 are ignored.
func WithMaxReceived(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxReceived = n
		}
	}
}

// New returns a Server that reports objects under s3://<bucket>/.
func New(bucket string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{bucket: bucket, logger: logger, nowFn: time.Now, maxReceived: DefaultMaxReceived}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Router returns the upload routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/upload", s.upload).Methods(http.MethodPost)
	r.HandleFunc("/api/uploads", s.list).Methods(http.MethodGet)

	return r
}

// Received returns the remembered uploads, in arrival order.
func (s *Server) Received() []FileDetails {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FileDetails, len(s.received))
	copy(out, s.received)

	return out
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		// an unreadable form is still acknowledged, like the real endpoint
		s.logger.WarnContext(r.Context(), "upload form unreadable", slog.String("err", err.Error()))
		s.writeJSON(w, http.StatusOK, UploadResponse{
			Success:   true,
			Message:   "File upload simulated (with errors)",
			Timestamp: s.timestamp(),
		})

		return
	}

	file, hdr, err := r.FormFile("file")
	key := r.FormValue("key")

	if err != nil || key == "" {
		s.writeJSON(w, http.StatusBadRequest, UploadResponse{Error: "Missing file or key"})
		return
	}
	defer file.Close()

	details := FileDetails{
		Name:          hdr.Filename,
		Size:          hdr.Size,
		Type:          hdr.Header.Get("Content-Type"),
		Key:           key,
		SimulatedPath: fmt.Sprintf("s3://%s/%s/%s", s.bucket, key, hdr.Filename),
	}

	s.remember(details)

	s.logger.InfoContext(
		r.Context(),
		"upload received",
		slog.String("key", key),
		slog.Int64("size", hdr.Size),
		slog.String("request_id", r.Header.Get("X-Request-Id")),
		slog.String("records", r.Header.Get("X-Record-Count")),
	)

	s.writeJSON(w, http.StatusOK, UploadResponse{
		Success:     true,
		Message:     "File processed and uploaded successfully",
		FileDetails: &details,
		Timestamp:   s.timestamp(),
	})
}

func (s *Server) remember(d FileDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.received) >= s.maxReceived {
		n := copy(s.received, s.received[len(s.received)-s.maxReceived+1:])
		s.received = s.received[:n]
	}

	s.received = append(s.received, d)
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Received())
}

func (s *Server) timestamp() string {
	return s.nowFn().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("write response", slog.String("err", err.Error()))
	}
}
