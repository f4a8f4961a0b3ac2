// ABOUTME: Idempotency-Key handling for operator commands.
// ABOUTME: Records the first response per key and replays it for retries.

package api

import (
	"bytes"
	"net/http"

	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/dedupe"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// Replay stores responses by idempotency key. *dedupe.Cache satisfies it.
type Replay interface {
	Claim(key string) (*dedupe.Response, bool)
	Complete(key string, resp dedupe.Response)
	Release(key string)
}

// recorder copies everything written through it.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recorder) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recorder) Write(p []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.body.Write(p)
	return rw.ResponseWriter.Write(p)
}

// idempotent wraps a command handler. Requests without the header run as-is.
// Keys are scoped to the caller's subject and the request path.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || s.replay == nil {
			next(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			s.sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		scoped := auth.Subject(r.Context()) + "\x00" + r.URL.Path + "\x00" + key
		prior, ok := s.replay.Claim(scoped)
		switch {
		case prior != nil:
			s.logger.Info("replaying idempotent request",
				"subject", auth.Subject(r.Context()),
				"path", r.URL.Path)
			for k, v := range prior.Header {
				w.Header()[k] = v
			}
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(prior.Status)
			_, _ = w.Write(prior.Body)
			return
		case !ok:
			s.sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		}

		rec := &recorder{ResponseWriter: w}
		completed := false
		defer func() {
			if !completed {
				s.replay.Release(scoped)
			}
		}()

		next(rec, r)

		// Server faults are not remembered so the client can retry them.
		if rec.status == 0 || rec.status >= http.StatusInternalServerError {
			return
		}
		s.replay.Complete(scoped, dedupe.Response{
			Status: rec.status,
			Header: w.Header().Clone(),
			Body:   rec.body.Bytes(),
		})
		completed = true
	}
}
