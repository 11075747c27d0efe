package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"pastevault/cfg"
	"pastevault/pkg/domain"
	"pastevault/svc/svc"
	"pastevault/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

type Hdl struct {
	paste   *svc.Paste
	sweeper *svc.Sweeper
	cfg     *cfg.Cfg
}

type CreateReq struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Language  string  `json:"language,omitempty"`
	Lifetime  float64 `json:"lifetime,omitempty"`
	IsPrivate bool    `json:"is_private,omitempty"`
	SecretKey string  `json:"secret_key,omitempty"`
}

type ListResp struct {
	Pastes []*domain.Paste `json:"pastes"`
	Count  int             `json:"count"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}

	limit := h.cfg.MaxPasteSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request body")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	params := domain.CreateParams{
		Title:           sanitizeTitle(req.Title),
		Content:         sanitizeContent(req.Content),
		Language:        strings.TrimSpace(req.Language),
		LifetimeMinutes: req.Lifetime,
		IsPrivate:       req.IsPrivate,
		SecretKey:       strings.TrimSpace(req.SecretKey),
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Int64("paste_id", paste.ID).
		Str("language", paste.Language).
		Bool("private", paste.IsPrivate).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	query := r.URL.Query().Get("q")
	category := r.URL.Query().Get("category")
	var (
		pastes []*domain.Paste
		err    error
	)
	if query == "" && category == "" {
		pastes, err = h.paste.Recent(r.Context())
	} else {
		pastes, err = h.paste.SearchLive(r.Context(), query, category)
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list pastes")
		writeErr(w, err, requestID)
		return
	}
	if pastes == nil {
		pastes = []*domain.Paste{}
	}
	json.NewEncoder(w).Encode(ListResp{Pastes: pastes, Count: len(pastes)})
}

// parseID maps malformed ids to not-found; path shape leaks nothing
// about what exists.
func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrPasteNotFound
	}
	return id, nil
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := parseID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	paste, err := h.paste.Resolve(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Int64("paste_id", id).Msg("resolve failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := parseID(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	if err := h.paste.Delete(r.Context(), id); err != nil {
		log.Warn().Err(err).Int64("paste_id", id).Msg("delete failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (h *Hdl) GetSecret(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	paste, err := h.paste.ResolveSecret(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Msg("secret resolve failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	if err := h.paste.DeleteSecret(r.Context(), key); err != nil {
		log.Warn().Err(err).Msg("secret delete failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (h *Hdl) GetCategories(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	langs, err := h.paste.Categories(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list categories")
		writeErr(w, err, requestID)
		return
	}
	if langs == nil {
		langs = []string{}
	}
	json.NewEncoder(w).Encode(map[string][]string{"categories": langs})
}

func (h *Hdl) GetStats(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	stats, err := h.paste.Stats(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to aggregate stats")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

// TriggerSweep runs one reconciliation cycle on demand.
func (h *Hdl) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	deleted, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("manual sweep failed")
		writeErr(w, err, requestID)
		return
	}
	hlog.FromRequest(r).Info().Int("deleted", deleted).Msg("manual sweep completed")
	json.NewEncoder(w).Encode(map[string]int{"deleted": deleted})
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	errorMsg := resp.Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"code":       resp.Error.Code,
		"request_id": requestID,
	})
}

// sanitizeContent normalizes to NFC and strips control characters
// except whitespace. Content is stored verbatim otherwise; escaping is
// the renderer's job.
func sanitizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

func sanitizeTitle(s string) string {
	s = sanitizeContent(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
