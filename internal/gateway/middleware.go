// ABOUTME: HTTP middleware for request ids and Idempotency-Key replay
// ABOUTME: Replayed responses are byte-identical to the first reply for that key

package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/forgestate/internal/auth"
	"github.com/2389/forgestate/internal/dedupe"
)

const (
	requestIDHeader   = "X-Request-ID"
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func subject(r *http.Request) string {
	return auth.SubjectFromContext(r.Context())
}

// withRequestID propagates X-Request-ID, generating one when absent.
func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// captureWriter records a response while passing it through.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotencyCacheKey scopes a client key to the caller and the route, so two
// token subjects never see each other's responses.
func idempotencyCacheKey(subject, path, key string) string {
	return subject + "\x00" + path + "\x00" + key
}

// idempotent replays the stored response for a POST carrying an
// Idempotency-Key already seen with the same body. Server errors are not
// stored so the client can retry them.
func (g *Gateway) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if g.idempotency == nil || key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		cacheKey := idempotencyCacheKey(auth.SubjectFromContext(r.Context()), r.URL.Path, key)
		fingerprint := dedupe.Fingerprint(body)

		switch resp, lookup := g.idempotency.Get(cacheKey, fingerprint); lookup {
		case dedupe.Hit:
			g.recorder.IncIdempotentReplay()
			g.requestLogger(r).Info("replaying idempotent response", "path", r.URL.Path)
			if resp.ContentType != "" {
				w.Header().Set("Content-Type", resp.ContentType)
			}
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(resp.Status)
			_, _ = w.Write(resp.Body)
			return
		case dedupe.Mismatch:
			g.sendJSONError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request body")
			return
		case dedupe.Miss:
		}

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		if cw.status != 0 && cw.status < http.StatusInternalServerError {
			g.idempotency.Put(cacheKey, fingerprint, dedupe.Response{
				Status:      cw.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
		}
	})
}
