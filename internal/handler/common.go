package handler

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

// bind decodes the JSON body, reporting binding failures as invalid requests.
func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return false
	}
	return true
}

// invalid reports a request-shape error and returns false for early exits.
func invalid(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	c.Error(apperrors.NewInvalidRequest(err.Error()))
	return false
}

func pathAddress(c *gin.Context, name string) (common.Address, bool) {
	addr, err := model.ParseAddress(name, c.Param(name))
	return addr, invalid(c, err)
}

func pathHash(c *gin.Context, name string) (common.Hash, bool) {
	h, err := model.ParseHash(name, c.Param(name))
	return h, invalid(c, err)
}

// queryLimit returns 0 when absent so the store applies its default.
func queryLimit(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return 0
}

// queryRange reads the optional from/to bounds.
func queryRange(c *gin.Context) (from, to *time.Time, ok bool) {
	for _, q := range []struct {
		key string
		dst **time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(q.key)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(fmt.Sprintf("%s: %v", q.key, err)))
			return nil, nil, false
		}
		*q.dst = &t
	}
	return from, to, true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = bigString(v)
	}
	return out
}
