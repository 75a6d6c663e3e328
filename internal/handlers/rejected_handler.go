package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"stream_broker/internal/broker"
)

// RejectedService описывает методы репроцессора, которые нужны хендлерам.
type RejectedService interface {
	Read(ctx context.Context, f broker.Filter) (*broker.ReadResult, error)
	Reprocess(ctx context.Context, f broker.Filter, overrides map[string]broker.Override) (*broker.ReprocessResult, error)
}

type RejectedHandler struct {
	service RejectedService
}

func NewRejectedHandler(service RejectedService) *RejectedHandler {
	return &RejectedHandler{service: service}
}

// GET /api/rejected?ids=...&from=...&to=...&action=...
// 200: { "messages": [...], "count": N }
// 400: invalid params
// 500: internal error
func (h *RejectedHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Read(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type reprocessRequest struct {
	broker.Filter
	Overrides map[string]broker.Override `json:"overrides,omitempty"`
}

// POST /api/rejected/reprocess
// body: { "ids": [...], "from": ..., "to": ..., "action": ..., "overrides": {id: {...}} }
// 200: { "succeeded": [...], "failed": [...] }
// 400: invalid json
// 500: internal error
func (h *RejectedHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := h.service.Reprocess(r.Context(), req.Filter, req.Overrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func filterFromQuery(r *http.Request) (broker.Filter, error) {
	var f broker.Filter

	if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.IDs = append(f.IDs, id)
			}
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("invalid from, expected RFC3339")
		}
		f.From = &t
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("invalid to, expected RFC3339")
		}
		f.To = &t
	}

	f.Action = strings.TrimSpace(r.URL.Query().Get("action"))

	return f, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Запрещаем второй JSON-объект в body
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
