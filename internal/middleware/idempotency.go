package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderReplay         = "Idempotent-Replay"
)

var errInFlight = apperrors.Sentinel(apperrors.ErrState, "request with this idempotency key is in progress")

type IdempotencyStore interface {
	// GetOrLock returns the stored record and true when the key is known.
	// Otherwise it claims the key and returns nil, false.
	GetOrLock(key string) (*model.IdempotencyRecord, bool)
	Save(key string, status int, body []byte)
	Unlock(key string)
}

// InMemIdempotencyStore keeps outcomes in process memory. Expired keys are
// swept on the next claim.
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]model.IdempotencyRecord
}

func NewInMemIdempotencyStore(ttl time.Duration) *InMemIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InMemIdempotencyStore{ttl: ttl, now: time.Now, entries: map[string]model.IdempotencyRecord{}}
}

func (s *InMemIdempotencyStore) GetOrLock(key string) (*model.IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, rec := range s.entries {
		if now.Sub(rec.CreatedAt) >= s.ttl {
			delete(s.entries, k)
		}
	}
	if rec, ok := s.entries[key]; ok {
		return &rec, true
	}
	s.entries[key] = model.IdempotencyRecord{Processing: true, CreatedAt: now}
	return nil, false
}

func (s *InMemIdempotencyStore) Save(key string, status int, body []byte) {
	s.mu.Lock()
	s.entries[key] = model.IdempotencyRecord{Status: status, Body: body, CreatedAt: s.now()}
	s.mu.Unlock()
}

func (s *InMemIdempotencyStore) Unlock(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// IdempotencyMiddleware makes keyed writes at-most-once per account: a fill
// or match retried with the same X-Idempotency-Key gets the first response
// back instead of settling again. Requires AuthMiddleware upstream.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, ok := AccountFrom(c)
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !ok {
			c.Next()
			return
		}
		scoped := acct.Name + ":" + key

		if rec, seen := store.GetOrLock(scoped); seen {
			replay(c, rec)
			return
		}

		capture := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		// 5xx outcomes release the key so the client may retry.
		if status := capture.Status(); status >= http.StatusInternalServerError {
			store.Unlock(scoped)
		} else {
			store.Save(scoped, status, capture.body)
		}
	}
}

func replay(c *gin.Context, rec *model.IdempotencyRecord) {
	if rec.Processing {
		_ = c.Error(errInFlight)
		c.Abort()
		return
	}
	AddAuditContext(c, "replayed", true)
	c.Header(HeaderReplay, "true")
	c.Data(rec.Status, gin.MIMEJSON+"; charset=utf-8", rec.Body)
	c.Abort()
}

type capturingWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}
