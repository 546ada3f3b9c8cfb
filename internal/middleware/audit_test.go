package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditBodyRedactsOrderSignatures(t *testing.T) {
	body := []byte(`{"order":{"token_id":"1","signature":"0xdead","signer":"0xbeef"},"fill_amount":"5"}`)
	out := auditBody(body, isSensitivePath("/v1/orders/fill"))

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	order := data["order"].(map[string]interface{})
	assert.Equal(t, "***", order["signature"])
	assert.Equal(t, "0xbeef", order["signer"])
	assert.Equal(t, "5", data["fill_amount"])
}

func TestAuditBodyRedactsWalletCalldata(t *testing.T) {
	out := auditBody([]byte(`{"calls":[{"to":"0x01","data":"0xa22cb465"}]}`), isSensitivePath("/v1/proxies/0x02/execute"))
	assert.Contains(t, out, `"data":"***"`)
	assert.Contains(t, out, `"to":"0x01"`)

	out = auditBody([]byte(`{"owner":"0x01","init_data":"0xc4d66de8"}`), isSensitivePath("/v1/proxies"))
	assert.Contains(t, out, `"init_data":"***"`)
}

func TestAuditBodyKeepsOtherPaths(t *testing.T) {
	body := []byte(`{"ancillary_data":"q"}`)
	assert.Equal(t, string(body), auditBody(body, isSensitivePath("/v1/oracle/requests")))
	assert.Equal(t, "[redacted]", auditBody([]byte("not-json"), isSensitivePath("/v1/orders")))
}

func TestAuditMiddlewareKeepsCallerRequestIDAndSkipsHealth(t *testing.T) {
	sink := &captureSink{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuditMiddleware(sink))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/big", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", maxAuditBody*2))
	})

	do(r, http.MethodGet, "/health", nil)
	assert.Empty(t, sink.entries)

	const id = "6f1c1f7e-3f1e-4c8e-9a52-1f5f0c7b2d11"
	w := do(r, http.MethodGet, "/v1/big", map[string]string{HeaderRequestID: id})
	require.Len(t, sink.entries, 1)
	assert.Equal(t, id, w.Header().Get(HeaderRequestID))
	assert.Equal(t, id, sink.entries[0].ID)
	assert.Len(t, sink.entries[0].ResponseBody, maxAuditBody)
	assert.Equal(t, maxAuditBody*2, w.Body.Len())
}
