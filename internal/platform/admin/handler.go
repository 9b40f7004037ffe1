package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/platform/auth"
	"github.com/ehr/elisfeed/internal/platform/feed"
	"github.com/ehr/elisfeed/internal/platform/openelis"
	"github.com/ehr/elisfeed/pkg/pagination"
)

// Retrier replays one parked event.
type Retrier interface {
	RetryFailedEvent(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	failed  feed.FailedEventStore
	retrier Retrier
	worker  feed.EventWorker
	logger  zerolog.Logger
}

func NewHandler(failed feed.FailedEventStore, retrier Retrier, worker feed.EventWorker, logger zerolog.Logger) *Handler {
	return &Handler{failed: failed, retrier: retrier, worker: worker, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/failed-events", h.ListFailedEvents)
	api.GET("/failed-events/:id", h.GetFailedEvent)
	api.POST("/failed-events/:id/retry", h.RetryFailedEvent)
	api.POST("/events", h.ProcessEvent)
}

func (h *Handler) ListFailedEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	events, total, err := h.failed.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetFailedEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fe, err := h.failed.Get(c.Request().Context(), id)
	if errors.Is(err, feed.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "failed event not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, fe)
}

func (h *Handler) RetryFailedEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.retrier.RetryFailedEvent(c.Request().Context(), id)
	if errors.Is(err, feed.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "failed event not found")
	}
	if err != nil {
		return processError(err)
	}
	h.logger.Info().Str("failed_event_id", id.String()).
		Str("user", auth.UserIDFromContext(c.Request().Context())).Msg("failed event retried")
	return c.NoContent(http.StatusNoContent)
}

type eventRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ProcessEvent runs one event through the worker outside the feed, e.g.
// to re-import an accession by its content path.
func (h *Handler) ProcessEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if req.ID == "" {
		req.ID = "manual:" + uuid.NewString()
	}
	ev := feed.Event{ID: req.ID, Title: req.Title, Content: req.Content}
	if err := h.worker.Process(c.Request().Context(), ev); err != nil {
		return processError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed", "event_id": ev.ID})
}

func processError(err error) error {
	var te *openelis.TransportError
	var dfe *accession.DataFormatError
	switch {
	case errors.As(err, &te):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.As(err, &dfe):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
