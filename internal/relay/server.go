package relay

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/log"
)

const (
	// MaxQueuedPerRecipient bounds each mailbox; posting to a full one fails.
	MaxQueuedPerRecipient = 1024
	// DefaultCollectLimit is used when a collect request names no limit.
	DefaultCollectLimit = 100

	contentType = "application/cbor"
)

// Server is the development store-and-forward relay: one in-memory mailbox
// per recipient, envelopes kept in arrival order until acknowledged.
type Server struct {
	logger *logging.Logger

	mu    sync.Mutex
	boxes map[domain.Username][]domain.RelayEnvelope
}

// NewServer returns an empty relay logging through backend.
func NewServer(backend *log.Backend) *Server {
	return &Server{
		logger: backend.GetLogger("relay"),
		boxes:  make(map[domain.Username][]domain.RelayEnvelope),
	}
}

// Handler returns the relay's HTTP surface:
//
//	POST /envelopes            queue an envelope for its recipient
//	GET  /envelopes/{user}     list queued envelopes, oldest first
//	POST /envelopes/{user}/ack discard the oldest n envelopes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /envelopes", s.handlePost)
	mux.HandleFunc("GET /envelopes/{user}", s.handleCollect)
	mux.HandleFunc("POST /envelopes/{user}/ack", s.handleAck)
	return s.accessLog(mux)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var env domain.RelayEnvelope
	if err := cbor.NewDecoder(r.Body).Decode(&env); err != nil {
		s.fail(w, failure.Wrap(failure.Decode, "decode envelope", err))
		return
	}
	if err := env.Validate(); err != nil {
		s.fail(w, err)
		return
	}

	env.ID = uuid.NewString()
	env.PostedAt = time.Now().Unix()

	s.mu.Lock()
	if len(s.boxes[env.To]) >= MaxQueuedPerRecipient {
		s.mu.Unlock()
		s.fail(w, failure.Newf(failure.DataTooLarge, "mailbox for %q is full", env.To))
		return
	}
	s.boxes[env.To] = append(s.boxes[env.To], env)
	queued := len(s.boxes[env.To])
	s.mu.Unlock()

	s.logger.Debugf("queued %s from %q to %q (%d waiting)", env.ID, env.From, env.To, queued)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusAccepted)
	cbor.NewEncoder(w).Encode(ackResponse{ID: env.ID})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	if user == "" {
		s.fail(w, failure.New(failure.InvalidInput, "empty recipient"))
		return
	}
	limit := DefaultCollectLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.fail(w, failure.Newf(failure.InvalidInput, "limit %q", q))
			return
		}
		limit = n
	}

	s.mu.Lock()
	box := s.boxes[user]
	if len(box) > limit {
		box = box[:limit]
	}
	out := make([]domain.RelayEnvelope, len(box))
	copy(out, box)
	s.mu.Unlock()

	w.Header().Set("Content-Type", contentType)
	cbor.NewEncoder(w).Encode(out)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	var req ackRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, failure.Wrap(failure.Decode, "decode ack", err))
		return
	}
	if req.Count <= 0 {
		s.fail(w, failure.Newf(failure.InvalidInput, "ack count %d", req.Count))
		return
	}

	s.mu.Lock()
	box := s.boxes[user]
	n := req.Count
	if n > len(box) {
		n = len(box)
	}
	if remaining := box[n:]; len(remaining) == 0 {
		delete(s.boxes, user)
	} else {
		s.boxes[user] = append([]domain.RelayEnvelope(nil), remaining...)
	}
	s.mu.Unlock()

	s.logger.Debugf("acked %d for %q", n, user)
	w.Header().Set("Content-Type", contentType)
	cbor.NewEncoder(w).Encode(ackResponse{Count: n})
}

// Queued reports how many envelopes wait for user.
func (s *Server) Queued(user domain.Username) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boxes[user])
}

// fail writes err with the status its failure kind maps to.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := failure.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("request failed: %v", err)
	} else {
		s.logger.Debugf("request rejected: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Infof("%s %s %s %d %s", r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type ackRequest struct {
	Count int `cbor:"count"`
}

type ackResponse struct {
	ID    string `cbor:"id,omitempty"`
	Count int    `cbor:"count,omitempty"`
}
