package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/sources"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

const historyTimeout = 3 * time.Second

// HistoryHandler exposes read-only channel coverage endpoints.
type HistoryHandler struct {
	store   store.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the store and logger.
func NewHistoryHandler(st store.Store, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:   st,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// GetChannelHistory handles GET /v1/channels/{channel_id}/history. It returns
// {"history": {...}} on success, 400 for malformed IDs, 404 when the channel
// was never crawled, 503 without a store, or 500 otherwise.
func (h *HistoryHandler) GetChannelHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	channelID, err := parseChannelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cov, err := sources.LoadCoverage(ctx, h.store, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		h.logger.Error("load channel history failed", zap.Uint64("channel", channelID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load channel history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": toCoverageDTO(cov)})
}

func parseChannelID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "channel_id")
	if raw == "" {
		return 0, errors.New("channel_id is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid channel_id")
	}
	return id, nil
}

// Snowflakes are rendered as strings since they overflow JSON numbers in
// most clients.
func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func toCoverageDTO(cov sources.Coverage) coverageDTO {
	dto := coverageDTO{
		ChannelID: formatID(cov.ChannelID),
		Cursor:    formatID(cov.Cursor),
		Ranges:    make([]rangeDTO, 0, cov.History.Len()),
	}
	if cov.History.First != nil {
		first := formatID(*cov.History.First)
		dto.First = &first
	}
	for _, r := range cov.History.Ranges() {
		dto.Ranges = append(dto.Ranges, rangeDTO{Start: formatID(r.Start), End: formatID(r.End)})
	}
	if cov.HasHole {
		hole := formatID(cov.Hole)
		dto.Hole = &hole
	}
	return dto
}

type coverageDTO struct {
	ChannelID string     `json:"channel_id"`
	Cursor    string     `json:"cursor"`
	First     *string    `json:"first,omitempty"`
	Ranges    []rangeDTO `json:"ranges"`
	Hole      *string    `json:"hole,omitempty"`
}

type rangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
