package api

import (
	"driftbin/cfg"
	"driftbin/pkg/domain"
	"driftbin/svc/lim"
	"driftbin/svc/svc"
	"driftbin/svc/util"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

// CreateReq uses a pointer so a missing field can be told apart from "".
type CreateReq struct {
	Content *string `json:"content"`
}
type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func PasteURL(id string) string {
	return "/p/" + id
}
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		writeErr(w, domain.ErrUnsupportedMedia, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	err = dec.Decode(&req)
	if err == nil {
		if _, terr := dec.Token(); terr != io.EOF {
			err = errors.New("trailing data after request object")
			if terr != nil {
				err = terr
			}
		}
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("request body exceeds maximum")
			writeErr(w, domain.ErrRequestTooLarge, requestID)
			return
		}
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if req.Content == nil {
		log.Warn().Msg("missing content field")
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	id, err := h.paste.Create(r.Context(), *req.Content)
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Int("size", len(*req.Content)).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{ID: id, URL: PasteURL(id)})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, found, err := h.paste.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("failed to retrieve paste")
		writeErr(w, err, requestID)
		return
	}
	if !found {
		log.Info().Str("paste_id", id).Msg("paste not found")
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(lim.GetRealIP(r, h.cfg.TrustedProxies))).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}
func (h *Hdl) GetPasteInfo(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	info, found, err := h.paste.Info(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("failed to retrieve paste info")
		writeErr(w, err, requestID)
		return
	}
	if !found {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	json.NewEncoder(w).Encode(info)
}

// writeErr collapses every 5xx to a fixed body; details only go to the log.
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = domain.ErrInternalServer.Msg
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
