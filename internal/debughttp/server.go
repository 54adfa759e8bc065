// Package debughttp serves the published collection view as JSON for
// operators, next to the Prometheus metrics.
package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ViewSource returns the latest published view. collection.Loop.View fits.
type ViewSource func() *collection.View

// Handler serves the debug routes. Every request reads one immutable view,
// so handlers never touch the tick loop's state.
type Handler struct {
	view     ViewSource
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func NewHandler(view ViewSource, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	return &Handler{view: view, gatherer: gatherer, log: log}
}

// Router returns the debug routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.health)
	r.Get("/ghosts", h.ghosts)
	r.Get("/ghosts/{type}", h.ghost)
	r.Get("/names", h.names)
	r.Get("/prediction-errors", h.predictionErrors)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the debug server until ctx is done.
func (h *Handler) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.log.Info("debug http listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("debug http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type healthResponse struct {
	State     string `json:"state"`
	Role      string `json:"role"`
	Tick      uint64 `json:"tick"`
	Activated int    `json:"activated"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	v := h.view()
	status := http.StatusOK
	if v.State == collection.StateDraining {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, healthResponse{
		State:     v.State.String(),
		Role:      v.Role.String(),
		Tick:      v.Tick,
		Activated: v.Activated,
	})
}

type ghostSummary struct {
	Index        int    `json:"index"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	State        string `json:"state"`
	Active       bool   `json:"active"`
	Announced    bool   `json:"announced,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	TypeHash     string `json:"type_hash,omitempty"`
	RecordBytes  int    `json:"record_bytes,omitempty"`
	Fields       int    `json:"fields,omitempty"`
	Compiles     int    `json:"compiles"`
}

func summarize(e collection.EntryView) ghostSummary {
	s := ghostSummary{
		Index:     e.Index,
		Type:      e.Type.String(),
		Name:      e.Name,
		State:     e.State.String(),
		Active:    e.Schema != nil,
		Announced: e.Announced,
		Compiles:  e.Compiles,
	}
	if e.Announced {
		s.ExpectedHash = hex(e.ExpectedHash)
	}
	if e.Schema != nil {
		s.TypeHash = hex(e.Schema.TypeHash)
		s.RecordBytes = e.Schema.SnapshotRecordBytes
		s.Fields = e.Schema.FieldCount
	}
	return s
}

func (h *Handler) ghosts(w http.ResponseWriter, _ *http.Request) {
	v := h.view()
	out := make([]ghostSummary, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = summarize(e)
	}
	h.writeJSON(w, http.StatusOK, out)
}

type fieldDetail struct {
	Type         string `json:"type"`
	SubObject    int    `json:"sub_object"`
	Offset       int    `json:"offset"`
	Size         int    `json:"size"`
	MaskBitStart int    `json:"mask_bit_start"`
	MaskBits     int    `json:"mask_bits"`
	Buffer       bool   `json:"buffer,omitempty"`
	EnableBit    bool   `json:"enable_bit,omitempty"`
	SendMask     string `json:"send_mask"`
	PrefabType   string `json:"prefab_type"`
}

type ghostDetail struct {
	ghostSummary
	FirstFieldIndex      int           `json:"first_field_index"`
	ChangeMaskBits       int           `json:"change_mask_bits"`
	EnableBits           int           `json:"enable_bits"`
	OwnerFieldByteOffset int32         `json:"owner_field_byte_offset"`
	OwnerPredicted       bool          `json:"owner_predicted"`
	DefaultMode          string        `json:"default_mode"`
	SupportedModes       string        `json:"supported_modes"`
	Warnings             int           `json:"warnings"`
	FieldList            []fieldDetail `json:"field_list"`
}

func detail(e collection.EntryView) ghostDetail {
	d := ghostDetail{ghostSummary: summarize(e)}
	s := e.Schema
	if s == nil {
		return d
	}
	d.FirstFieldIndex = s.FirstFieldIndex
	d.ChangeMaskBits = s.ChangeMaskBits
	d.EnableBits = s.EnableBits
	d.OwnerFieldByteOffset = s.OwnerFieldByteOffset
	d.OwnerPredicted = s.OwnerPredicted
	d.DefaultMode = s.DefaultMode.String()
	d.SupportedModes = s.SupportedModes.String()
	d.Warnings = len(s.Warnings)
	d.FieldList = make([]fieldDetail, len(s.Fields))
	for i, f := range s.Fields {
		d.FieldList[i] = fieldOf(f)
	}
	return d
}

func fieldOf(f schema.Field) fieldDetail {
	return fieldDetail{
		Type:         f.TypeName,
		SubObject:    f.SubObject,
		Offset:       f.Offset,
		Size:         f.Size,
		MaskBitStart: f.MaskBitStart,
		MaskBits:     f.MaskBits,
		Buffer:       f.Buffer,
		EnableBit:    f.EnableBit,
		SendMask:     f.SendMask.String(),
		PrefabType:   f.PrefabType.String(),
	}
}

// ghost looks a slot up by ghost type id or by name.
func (h *Handler) ghost(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "type")
	v := h.view()
	if t, err := ghost.ParseType(key); err == nil {
		if e, ok := v.Lookup(t); ok {
			h.writeJSON(w, http.StatusOK, detail(e))
			return
		}
	}
	for _, e := range v.Entries {
		if e.Name == key {
			h.writeJSON(w, http.StatusOK, detail(e))
			return
		}
	}
	h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown ghost type"})
}

func (h *Handler) names(w http.ResponseWriter, _ *http.Request) {
	v := h.view()
	names := v.GhostNames
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, http.StatusOK, names)
}

type predictionErrors struct {
	Names []string `json:"names"`
	Slots int      `json:"slots"`
}

func (h *Handler) predictionErrors(w http.ResponseWriter, _ *http.Request) {
	v := h.view()
	names := v.PredictionErrorNames
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, http.StatusOK, predictionErrors{Names: names, Slots: v.PredictionErrorSlots})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("debug http write failed", zap.Error(err))
	}
}

func hex(h uint64) string { return fmt.Sprintf("0x%016x", h) }
