package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"paymebridge/payme"
	"paymebridge/storage"
)

// AuditSink records raw webhook exchanges.
type AuditSink interface {
	InsertAudit(ctx context.Context, entry storage.AuditEntry) error
}

// Handler serves the provider webhook. Every outcome, including auth and
// parse failures, is answered with HTTP 200 and a JSON-RPC envelope.
type Handler struct {
	auth       *Authenticator
	dispatcher *Dispatcher
	audit      AuditSink
	logger     *slog.Logger
	now        func() time.Time
}

type HandlerOption func(*Handler)

// WithAudit stores every request/response pair in sink.
func WithAudit(sink AuditSink) HandlerOption {
	return func(h *Handler) { h.audit = sink }
}

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(auth *Authenticator, dispatcher *Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{auth: auth, dispatcher: dispatcher, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	var resp *Response
	body, err := io.ReadAll(reader)
	req := &Request{}
	switch {
	case err != nil:
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.logger.Warn("rpc: request body too large", "limit", maxRequestBytes)
		}
		resp = newFailure(nil, payme.NewError(payme.KindInvalidRequest, "Invalid request (unreadable body)"))
	default:
		var perr *payme.Error
		req, perr = ParseRequest(body)
		if authErr := h.authenticate(r); authErr != nil {
			resp = newFailure(req.ID, authErr)
		} else if perr != nil {
			resp = newFailure(req.ID, perr)
		} else {
			resp = h.dispatcher.Dispatch(r.Context(), req)
		}
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("rpc: encode response", "method", req.Method, "error", err)
		encoded, _ = json.Marshal(newFailure(req.ID, payme.SystemError()))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)

	h.record(r, req.Method, body, encoded)
}

func (h *Handler) authenticate(r *http.Request) *payme.Error {
	if h.auth == nil {
		return nil
	}
	return h.auth.Authenticate(r)
}

func (h *Handler) record(r *http.Request, method string, body, response []byte) {
	if h.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		Method:         r.Method,
		Path:           r.URL.Path,
		RPCMethod:      method,
		RequestBody:    bytes.TrimSpace(body),
		ResponseStatus: http.StatusOK,
		ResponseBody:   response,
		Timestamp:      h.now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := h.audit.InsertAudit(ctx, entry); err != nil {
		h.logger.Warn("rpc: audit write failed", "method", method, "error", err)
	}
}
