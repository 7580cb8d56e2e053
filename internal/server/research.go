package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/queue/streams"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var researchTracer = otel.Tracer("deepresearch/internal/server")

type ResearchHandler struct {
	deps Deps
	log  *zap.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.research)
	g.GET("/research", h.list)
	g.GET("/research/:id", h.get)
	g.GET("/research/:id/packets", h.packets)
	g.GET("/tools", h.tools)
}

type runOutcome struct {
	res core.Result
	err error
}

// research runs one question. Clients that accept text/event-stream (or pass
// stream=true) get every packet as an SSE "packet" event followed by a
// "result" event; everyone else gets the Result as JSON.
func (h *ResearchHandler) research(c echo.Context) error {
	var req core.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	if req.Mode != "" {
		mode, err := models.ParseMode(string(req.Mode))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req.Mode = mode
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.deps.StreamTimeout)
	defer cancel()
	ctx, span := researchTracer.Start(ctx, "ResearchHandler.research")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(req.Mode)))

	if !wantsStream(c) {
		rec := &stream.Recorder{}
		res, err := h.deps.Engine.Run(ctx, req, rec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, res)
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := stream.NewChannelSink(64)
	done := make(chan runOutcome, 1)
	alive := func() bool { return ctx.Err() == nil }
	go func() {
		res, err := h.deps.Engine.Run(ctx, req, sink, stream.WithLiveness(alive))
		done <- runOutcome{res: res, err: err}
	}()

	write := func(event string, v any) {
		if err := writeEvent(resp, event, v); err != nil {
			h.log.Debug("sse write failed", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	pkts := sink.Packets()
	var out runOutcome
loop:
	for {
		select {
		case p, ok := <-pkts:
			if !ok {
				pkts = nil
				continue
			}
			write("packet", p)
		case out = <-done:
			break loop
		}
	}
	// Run has returned, so whatever is left is already buffered.
	for pkts != nil {
		select {
		case p, ok := <-pkts:
			if !ok {
				pkts = nil
				continue
			}
			write("packet", p)
		default:
			pkts = nil
		}
	}
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		write("error", HTTPError{Error: out.err.Error()})
		return nil
	}
	write("result", out.res)
	return nil
}

func wantsStream(c echo.Context) bool {
	if v, err := strconv.ParseBool(c.QueryParam("stream")); err == nil {
		return v
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream")
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}

func (h *ResearchHandler) get(c echo.Context) error {
	if h.deps.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence disabled")
	}
	rec, ok, err := h.deps.Store.GetResearchRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *ResearchHandler) list(c echo.Context) error {
	if h.deps.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence disabled")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.deps.Store.ListResearchRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

// packets replays the mirrored packet stream of a run.
func (h *ResearchHandler) packets(c echo.Context) error {
	if h.deps.Redis == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "packet mirror disabled")
	}
	pkts, err := streams.Replay(c.Request().Context(), h.deps.Redis, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(pkts) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no packets for run")
	}
	return c.JSON(http.StatusOK, pkts)
}

func (h *ResearchHandler) tools(c echo.Context) error {
	tools, err := h.deps.Engine.Tools()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tools)
}
