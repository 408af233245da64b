package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/shopilots-chat/internal/api"
	"github.com/ashureev/shopilots-chat/internal/identity"
	"github.com/ashureev/shopilots-chat/internal/metrics"
	"github.com/ashureev/shopilots-chat/internal/retrieval"
	"github.com/ashureev/shopilots-chat/internal/synth"
)

const defaultMaxRequestBodySize = 1 << 20

var doneFrame = []byte("[DONE]")

// Handler serves the chat endpoints.
type Handler struct {
	svc     *Service
	maxBody int64
	logger  *slog.Logger
}

// NewHandler creates a chat Handler. maxBody bounds request bodies.
func NewHandler(svc *Service, maxBody int64, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, maxBody: maxBody, logger: logger}
}

// RegisterRoutes mounts the chat endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/chat/stream", h.HandleStream)
	r.Get("/ws/chat", h.HandleWebSocket)
}

// HandleChat handles POST /api/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	metrics.ChatRequests.WithLabelValues("http").Inc()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.logRequest(r, req)

	resp, err := h.svc.Answer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleStream handles POST /api/chat/stream requests. Failures before the
// first frame get an HTTP status; later ones are sent as error frames.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	metrics.ChatRequests.WithLabelValues("sse").Inc()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.logRequest(r, req)

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frames, err := h.svc.Stream(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	for f := range frames {
		if err := writeSSE(w, f); err != nil {
			h.logger.Warn("failed to write SSE frame", "request_id", chiMiddleware.GetReqID(r.Context()), "error", err)
			return
		}
		flusher.Flush()
	}
}

// HandleWebSocket handles GET /ws/chat. Each text message is a Request;
// the reply is the same frame sequence the SSE endpoint sends, one frame
// per message.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.maxBody)

	ctx := r.Context()
	sessionID := identity.SessionIDFromContext(ctx)
	if sessionID == identity.DefaultSessionIDValue {
		sessionID = uuid.NewString()
	}
	h.logger.Info("websocket chat opened", "session_id", sessionID)

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	for {
		typ, msg, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by client", "session_id", sessionID)
			} else if !errors.Is(err, context.Canceled) {
				h.logger.Warn("websocket read error", "session_id", sessionID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		metrics.ChatRequests.WithLabelValues("websocket").Inc()

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			if err := writeWS(ctx, ws, synth.Frame{Error: "invalid request body"}); err != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}
		if err := h.replyWS(ctx, ws, req); err != nil {
			h.logger.Debug("websocket write failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func (h *Handler) replyWS(ctx context.Context, ws *websocket.Conn, req Request) error {
	frames, err := h.svc.Stream(ctx, req)
	if err != nil {
		if err := writeWS(ctx, ws, synth.Frame{Error: err.Error()}); err != nil {
			return err
		}
		return writeWS(ctx, ws, synth.Frame{Done: true})
	}
	for f := range frames {
		if err := writeWS(ctx, ws, f); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return Request{}, false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return Request{}, false
	}
	return req, true
}

func (h *Handler) logRequest(r *http.Request, req Request) {
	h.logger.Info("chat request",
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"session_id", identity.Resolve(r.Context(), req.SessionID),
		"question_length", len(req.Question),
	)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		api.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("chat request failed", "request_id", chiMiddleware.GetReqID(r.Context()), "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// framePayload renders f as the JSON object or [DONE] sentinel clients expect.
func framePayload(f synth.Frame) ([]byte, error) {
	switch {
	case f.Done:
		return doneFrame, nil
	case f.Error != "":
		return json.Marshal(map[string]string{"error": f.Error})
	default:
		return json.Marshal(map[string]string{"token": f.Token})
	}
}

func writeSSE(w io.Writer, f synth.Frame) error {
	data, err := framePayload(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeWS(ctx context.Context, ws *websocket.Conn, f synth.Frame) error {
	data, err := framePayload(f)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
