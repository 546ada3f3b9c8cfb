package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

const (
	ContextAuditLog = "audit_log"
	HeaderRequestID = "X-Request-ID"

	// Typed-data and batch responses can be large; keep the head only.
	maxAuditBody = 8 << 10
)

// Request bodies under these prefixes carry signatures or wallet calldata.
var sensitivePrefixes = []string{"/v1/orders", "/v1/proxies", "/v1/accounts"}

var sensitiveKeys = map[string]bool{
	"api_key":     true,
	"private_key": true,
	"signature":   true,
	"sig":         true,
	"init_data":   true,
	"data":        true,
}

// Paths that are polled or hijacked are not audited.
var unaudited = map[string]bool{
	"/health":           true,
	"/metrics":          true,
	"/v1/events/stream": true,
}

// AuditSink receives finished audit entries.
type AuditSink interface {
	Log(entry *model.AuditLog)
}

// bodyLogWriter tees the response body.
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxAuditBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// AuditMiddleware records one entry per request: who called, what was sent,
// what came back and the detail handlers attach with AddAuditContext.
func AuditMiddleware(sink AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		if unaudited[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Header(HeaderRequestID, reqID)

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		entry := &model.AuditLog{
			ID:        reqID,
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			CreatedAt: start,
			Context:   make(map[string]interface{}),
		}
		c.Set(ContextAuditLog, entry)

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if acct, ok := AccountFrom(c); ok {
			entry.Account = acct.Name
			entry.Context["caller"] = acct.Address.Hex()
		}
		sensitive := isSensitivePath(entry.Path)
		entry.RequestBody = auditBody(reqBody, sensitive)
		entry.StatusCode = c.Writer.Status()
		entry.ResponseBody = auditBody(blw.body.Bytes(), sensitive)
		entry.LatencyMs = time.Since(start).Milliseconds()

		sink.Log(entry)
	}
}

// AddAuditContext attaches handler detail to the request's audit entry.
func AddAuditContext(c *gin.Context, key string, value interface{}) {
	if val, exists := c.Get(ContextAuditLog); exists {
		if entry, ok := val.(*model.AuditLog); ok {
			entry.Context[key] = value
		}
	}
}

func isSensitivePath(path string) bool {
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func auditBody(body []byte, sensitive bool) string {
	if len(body) == 0 {
		return ""
	}
	if !sensitive {
		return string(body)
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[redacted]"
	}
	out, err := json.Marshal(redact(data))
	if err != nil {
		return "[redacted]"
	}
	return string(out)
}

func redact(v interface{}) interface{} {
	switch raw := v.(type) {
	case map[string]interface{}:
		for key, val := range raw {
			if sensitiveKeys[strings.ToLower(strings.TrimSpace(key))] {
				raw[key] = "***"
			} else {
				raw[key] = redact(val)
			}
		}
	case []interface{}:
		for i, val := range raw {
			raw[i] = redact(val)
		}
	}
	return v
}
