package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diagnosis/qr-attendance/pkg/logger"
)

// IdempotencyStore keeps replayable responses. Get returns "" for a miss.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key from the same caller. Only 2xx responses are stored,
// so a rejected scan can be retried with the same key.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			// Scope by caller so two users cannot collide on a key.
			scoped := r.URL.Path + "|" + r.Header.Get("Authorization") + "|" + key
			hashedKey := fmt.Sprintf("idempotency:%x", sha256.Sum256([]byte(scoped)))

			existing, err := store.Get(r.Context(), hashedKey)
			if err != nil {
				logger.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
			}
			if existing != "" {
				var c cachedResponse
				if err := json.Unmarshal([]byte(existing), &c); err == nil {
					w.Header().Set("Content-Type", c.ContentType)
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(c.Status)
					w.Write(c.Body)
					return
				}
			}

			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.statusCode < 200 || recorder.statusCode >= 300 {
				return
			}
			raw, err := json.Marshal(cachedResponse{
				Status:      recorder.statusCode,
				ContentType: recorder.Header().Get("Content-Type"),
				Body:        recorder.body,
			})
			if err != nil {
				return
			}
			if err := store.Set(r.Context(), hashedKey, string(raw), ttl); err != nil {
				logger.WarnContext(r.Context(), "idempotency store failed", "error", err)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	r.body = append(r.body, body...)
	return r.ResponseWriter.Write(body)
}
