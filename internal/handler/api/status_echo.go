package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	models "MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/bus"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalReader is the read side of the aggregator.
type SignalReader interface {
	State(symbol string) (models.AggregatedState, bool)
	Symbols() []string
	Latest(ctx context.Context, symbol string) (*models.Signal, error)
	Transitions(symbol string, limit int) []models.SignalTransition
	Stats() []models.SymbolStats
}

// BusPublisher is what the status API needs from the publisher.
type BusPublisher interface {
	Status() bus.PublisherStatus
	Reconnect() error
}

// BusClient is what the status API needs from the bus client.
type BusClient interface {
	Ping(ctx context.Context) error
	BreakerState() string
	TransportName() string
}

// PendingCounter reports queued sink writes.
type PendingCounter interface {
	Pending() int
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status       string              `json:"status"`
	Transport    string              `json:"transport"`
	BusConnected bool                `json:"bus_connected"`
	Breaker      string              `json:"breaker"`
	Publisher    bus.PublisherStatus `json:"publisher"`
	Symbols      int                 `json:"symbols"`
	SinkPending  int                 `json:"sink_pending"`
	BusError     string              `json:"bus_error,omitempty"`
	CheckedAt    time.Time           `json:"checked_at"`
}

// StatusEchoHandler serves the ops surface of the aggregator.
type StatusEchoHandler struct {
	logger        *xlogger.Logger
	signals       SignalReader
	store         domrepo.SignalStore
	publisher     BusPublisher
	client        BusClient
	sink          PendingCounter
	healthTimeout time.Duration
}

// NewStatusEchoHandler builds the handler. store and sink may be nil when storage is disabled.
func NewStatusEchoHandler(
	logger *xlogger.Logger,
	signals SignalReader,
	store domrepo.SignalStore,
	publisher BusPublisher,
	client BusClient,
	sink PendingCounter,
) *StatusEchoHandler {
	return &StatusEchoHandler{
		logger:        logger,
		signals:       signals,
		store:         store,
		publisher:     publisher,
		client:        client,
		sink:          sink,
		healthTimeout: 2 * time.Second,
	}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/state/:symbol", h.State)
	g.GET("/signals/:symbol/latest", h.Latest)
	g.GET("/signals/:symbol", h.History)
	g.GET("/transitions/:symbol", h.Transitions)
	g.GET("/stats", h.Stats)
	g.POST("/bus/reconnect", h.Reconnect)
}

func (h *StatusEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.healthTimeout)
	defer cancel()

	res := HealthResponse{
		Status:    "ok",
		Transport: h.client.TransportName(),
		Publisher: h.publisher.Status(),
		Symbols:   len(h.signals.Symbols()),
		CheckedAt: time.Now().UTC(),
	}
	// polling must not feed the reconnect breaker
	if err := h.client.Ping(ctx); err != nil {
		res.BusError = err.Error()
	} else {
		res.BusConnected = true
	}
	res.Breaker = h.client.BreakerState()
	if h.sink != nil {
		res.SinkPending = h.sink.Pending()
	}

	switch {
	case res.Publisher.State == bus.StateDegraded.String():
		res.Status = "degraded"
	case !res.BusConnected || res.Publisher.State != bus.StateConnected.String():
		res.Status = "reconnecting"
	}
	if res.Status == "degraded" {
		return xhttp.ServiceUnavailableResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StatusEchoHandler) State(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, ok := h.signals.State(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no state for %s", strings.ToUpper(req.Symbol)))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *StatusEchoHandler) Latest(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.signals.Latest(c.Request().Context(), req.Symbol)
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no signal for %s", strings.ToUpper(req.Symbol)))
	}
	if err != nil {
		h.logger.Error("latest signal lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("latest signal lookup failed").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, sig)
}

func (h *StatusEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.store == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("signal storage is disabled"))
	}
	var since time.Time
	if req.Since != "" {
		t, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
				Code:    "ERR_FORMAT",
				Field:   "since",
				Message: "since must be RFC3339 or unix seconds",
			}})
		}
		since = t
	}

	rows, err := h.store.Recent(c.Request().Context(), strings.ToUpper(req.Symbol), since, req.Limit)
	if err != nil {
		h.logger.Error("signal history query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("signal history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusEchoHandler) Transitions(c echo.Context) error {
	req := &models.TransitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.signals.Transitions(req.Symbol, req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusEchoHandler) Stats(c echo.Context) error {
	rows := h.signals.Stats()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusEchoHandler) Reconnect(c echo.Context) error {
	if err := h.publisher.Reconnect(); err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("publisher is closed"))
		}
		h.logger.Error("bus reconnect failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("bus reconnect failed").WithError(err))
	}
	h.logger.Info("bus reconnect requested via api", xlogger.String("remote", c.RealIP()))
	return xhttp.DataResponse(c, http.StatusAccepted, h.publisher.Status())
}
