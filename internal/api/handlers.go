package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/qrhub/internal/apperr"
	"github.com/starford/qrhub/internal/checksum"
	"github.com/starford/qrhub/internal/encoder"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/validate"
	"github.com/starford/qrhub/internal/workflow"
)

// Handler holds API route handlers.
type Handler struct {
	wf *workflow.Workflow
}

// NewHandler creates a new Handler.
func NewHandler(wf *workflow.Workflow) *Handler {
	return &Handler{wf: wf}
}

// writeError maps workflow errors onto status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	var formErr *workflow.FormError
	switch {
	case errors.As(err, &formErr):
		writeJSON(w, http.StatusUnprocessableEntity, fieldErrors("form is not ready", formErr.Fields))
	case errors.Is(err, apperr.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody(apperr.ErrBusy.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidImport), errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, encoder.ErrEncode):
		writeJSON(w, http.StatusBadGateway, errorBody("QR code could not be generated"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// parseKind accepts the same spellings as the MCP tools (case and
// surrounding space are ignored).
func parseKind(raw models.Kind) (models.Kind, error) {
	kind, err := models.ParseKind(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", workflow.ErrUnknownKind, raw)
	}
	return kind, nil
}

// Kinds handles GET /api/kinds.
//
//	@Summary		List QR kinds and their fields
//	@Tags			form
//	@Produce		json
//	@Success		200	{object}	KindsResponse
//	@Router			/kinds [get]
func (h *Handler) Kinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, KindsResponse{Kinds: kindInfos()})
}

func kindInfos() []KindInfo {
	out := make([]KindInfo, 0, len(models.Kinds()))
	for _, k := range models.Kinds() {
		required := make(map[string]bool)
		for _, name := range validate.Required(k) {
			required[name] = true
		}
		info := KindInfo{Kind: k}
		for _, name := range models.FieldsFor(k) {
			info.Fields = append(info.Fields, FieldInfo{Name: name, Required: required[name]})
		}
		out = append(out, info)
	}
	return out
}

// GetForm handles GET /api/form.
//
//	@Summary		Current form state
//	@Tags			form
//	@Produce		json
//	@Success		200	{object}	FormResponse
//	@Router			/form [get]
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wf.Form())
}

// SelectKind handles PUT /api/form/kind.
//
//	@Summary		Switch the active kind
//	@Description	Clears the form fields and the displayed image.
//	@Tags			form
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SelectKindRequest	true	"Kind"
//	@Success		200		{object}	FormResponse
//	@Failure		400		{object}	errResponse
//	@Router			/form/kind [put]
func (h *Handler) SelectKind(w http.ResponseWriter, r *http.Request) {
	var req SelectKindRequest
	if ok, err := decodeJSON(r, &req); err != nil || !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, "select kind", err)
		return
	}
	if err := h.wf.SelectKind(kind); err != nil {
		writeError(w, "select kind", err)
		return
	}
	writeJSON(w, http.StatusOK, h.wf.Form())
}

// SetFields handles PATCH /api/form/fields.
//
//	@Summary		Update form fields
//	@Tags			form
//	@Accept			json
//	@Produce		json
//	@Param			body	body		map[string]string	true	"Field values"
//	@Success		200		{object}	FormResponse
//	@Failure		400		{object}	errResponse
//	@Router			/form/fields [patch]
func (h *Handler) SetFields(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if _, err := decodeJSON(r, &values); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.wf.SetFields(values); err != nil {
		writeError(w, "set fields", err)
		return
	}
	writeJSON(w, http.StatusOK, h.wf.Form())
}

// BlurField handles POST /api/form/fields/{field}/blur.
//
//	@Summary		Inline message for a field the user left
//	@Tags			form
//	@Produce		json
//	@Param			field	path		string	true	"Field name"
//	@Success		200		{object}	BlurResponse
//	@Failure		400		{object}	errResponse
//	@Router			/form/fields/{field}/blur [post]
func (h *Handler) BlurField(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	if !models.KnownField(field) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown field: "+field))
		return
	}
	writeJSON(w, http.StatusOK, BlurResponse{Field: field, Message: h.wf.FieldMessage(field)})
}

// Generate handles POST /api/generate.
//
//	@Summary		Generate a QR code
//	@Description	Without a body the current form is used.
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	false	"Form override"
//	@Success		201		{object}	DisplayResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	hasBody, err := decodeJSON(r, &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	var d *workflow.Display
	switch {
	case hasBody && req.Kind != "":
		var kind models.Kind
		if kind, err = parseKind(req.Kind); err == nil {
			d, err = h.wf.Submit(r.Context(), kind, req.Fields)
		}
	case hasBody && len(req.Fields) > 0:
		d, err = h.wf.GenerateWithFields(r.Context(), req.Fields)
	default:
		d, err = h.wf.Generate(r.Context())
	}
	if err != nil {
		writeError(w, "generate", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDisplay handles GET /api/display.
//
//	@Summary		The image currently shown
//	@Tags			generate
//	@Produce		json
//	@Success		200	{object}	DisplayResponse
//	@Failure		404	{object}	errResponse
//	@Router			/display [get]
func (h *Handler) GetDisplay(w http.ResponseWriter, r *http.Request) {
	d, ok := h.wf.Display()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("nothing displayed"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DisplayPNG handles GET /api/display.png.
//
//	@Summary		Download the displayed image
//	@Tags			generate
//	@Produce		png
//	@Param			If-None-Match	header	string	false	"ETag from a previous download"
//	@Success		200
//	@Success		304
//	@Failure		404	{object}	errResponse
//	@Router			/display.png [get]
func (h *Handler) DisplayPNG(w http.ResponseWriter, r *http.Request) {
	d, ok := h.wf.Display()
	if !ok || len(d.PNG()) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("nothing displayed"))
		return
	}
	data := d.PNG()
	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if checksum.Matches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("png write failed", slog.String("error", err.Error()))
	}
}

// Notices handles GET /api/notices.
//
//	@Summary		Pending user notices
//	@Description	Each notice is returned once.
//	@Tags			generate
//	@Produce		json
//	@Success		200	{object}	NoticesResponse
//	@Router			/notices [get]
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NoticesResponse{Notices: h.wf.Notices()})
}

// GetTheme handles GET /api/theme.
//
//	@Summary		Current colour theme
//	@Tags			preferences
//	@Produce		json
//	@Success		200	{object}	ThemeRequest
//	@Router			/theme [get]
func (h *Handler) GetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ThemeRequest{Theme: h.wf.Theme()})
}

// SetTheme handles PUT /api/theme.
//
//	@Summary		Change the colour theme
//	@Tags			preferences
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ThemeRequest	true	"Theme"
//	@Success		200		{object}	ThemeRequest
//	@Failure		400		{object}	errResponse
//	@Router			/theme [put]
func (h *Handler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req ThemeRequest
	if ok, err := decodeJSON(r, &req); err != nil || !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.wf.SetTheme(req.Theme); err != nil {
		writeError(w, "set theme", err)
		return
	}
	writeJSON(w, http.StatusOK, ThemeRequest{Theme: h.wf.Theme()})
}
