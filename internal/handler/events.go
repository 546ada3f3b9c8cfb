package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
)

// EventHistory is any store that can replay published protocol events.
type EventHistory interface {
	List(ctx context.Context, f repository.EventFilter) ([]events.Event, error)
}

type EventHandler struct {
	history EventHistory
	stream  http.Handler
}

func NewEventHandler(history EventHistory, stream http.Handler) *EventHandler {
	return &EventHandler{history: history, stream: stream}
}

// List serves GET /events?types=A,B&source=exchange&from=&to=&limit=.
func (h *EventHandler) List(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	f := repository.EventFilter{
		Source: c.Query("source"),
		From:   from,
		To:     to,
		Limit:  queryLimit(c),
	}
	for _, t := range strings.Split(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, events.Type(t))
		}
	}

	evs, err := h.history.List(c.Request.Context(), f)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrExternal, "event history unavailable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// Stream upgrades to a websocket fed by the live event hub.
func (h *EventHandler) Stream(c *gin.Context) {
	h.stream.ServeHTTP(c.Writer, c.Request)
}
