package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const exportFilename = "qr-history.json"

// ListHistory handles GET /api/history.
//
//	@Summary		List generated codes, newest first
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	HistoryResponse
//	@Router			/history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records := h.wf.History()
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records, Total: len(records)})
}

// ClearHistory handles DELETE /api/history.
//
//	@Summary		Remove every history record
//	@Tags			history
//	@Success		204	"History cleared"
//	@Router			/history [delete]
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.wf.ClearHistory(); err != nil {
		writeError(w, "clear history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportHistory handles GET /api/history/export.
//
//	@Summary		Download the history as JSON
//	@Tags			history
//	@Produce		json
//	@Success		200	{array}	models.Record
//	@Router			/history/export [get]
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	data, err := h.wf.ExportHistory()
	if err != nil {
		writeError(w, "export history", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("export write failed", slog.String("error", err.Error()))
	}
}

// ImportHistory handles POST /api/history/import.
//
// The dump is accepted either as the raw request body or as a multipart
// upload in field "file".
//
//	@Summary		Replace the history with an exported dump
//	@Tags			history
//	@Accept			json
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	false	"History JSON file"
//	@Success		200		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Router			/history/import [post]
func (h *Handler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	data, err := readImport(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.wf.ImportHistory(data); err != nil {
		writeError(w, "import history", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Count: len(h.wf.History())})
}

type importError string

func (e importError) Error() string { return string(e) }

func readImport(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, importError("failed to read body")
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return nil, importError("file too large or invalid multipart")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, importError("missing 'file' field in multipart form")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, importError("failed to read file")
	}
	return data, nil
}

// LoadRecord handles POST /api/history/{id}/load.
//
//	@Summary		Show a past record again
//	@Description	The kind follows the record; form fields are left empty.
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Record ID"
//	@Success		200	{object}	DisplayResponse
//	@Failure		404	{object}	errResponse
//	@Router			/history/{id}/load [post]
func (h *Handler) LoadRecord(w http.ResponseWriter, r *http.Request) {
	d, err := h.wf.LoadRecord(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "load record", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
