package web

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/magnus-im/CertificateManager/internal/app"
	"github.com/magnus-im/CertificateManager/internal/core"
)

// ── Ingestion ────────────────────────────────────────────────────────────────

// importDocument handles POST /api/nfe/import. The XML comes either as the
// multipart field "file" or as the raw request body.
func (h *Handler) importDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMax)

	var (
		payload  []byte
		filename string
		err      error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			h.rejectUpload(w, r, ferr, "no file provided")
			return
		}
		defer file.Close()
		filename = header.Filename
		payload, err = io.ReadAll(file)
	} else {
		payload, err = io.ReadAll(r.Body)
	}
	if err != nil {
		h.rejectUpload(w, r, err, "failed to read upload")
		return
	}

	res, err := h.svc.ImportDocument(r.Context(), app.ImportDocumentRequest{
		TenantID: tenantID(r),
		Filename: filename,
		Payload:  payload,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Outcome == core.IngestAlreadyImported {
		writeJSONStatus(w, http.StatusConflict, struct {
			*core.IngestResult
			Code string `json:"code"`
		}{res, "ALREADY_IMPORTED"})
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// rejectUpload answers an unreadable upload with 413 when it hit the size
// limit and 400 otherwise.
func (h *Handler) rejectUpload(w http.ResponseWriter, r *http.Request, err error, message string) {
	entry := h.log.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"tenant_id":  tenantID(r),
	})
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		entry.Warnf("upload rejected: larger than %d bytes", maxBytesErr.Limit)
		writeError(w, r, "upload too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
		return
	}
	entry.Warnf("upload rejected: %v", err)
	writeError(w, r, message, "BAD_REQUEST", http.StatusBadRequest)
}

// ── Queue ────────────────────────────────────────────────────────────────────

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListQueue(r.Context(), tenantID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) resolveMapping(w http.ResponseWriter, r *http.Request) {
	var req app.ResolveMappingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TenantID = tenantID(r)
	m, err := h.svc.ResolveMapping(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (h *Handler) unlinkEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.UnlinkEntry(r.Context(), tenantID(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"queue_id": id, "status": core.StatusMappingRequired})
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteEntry(r.Context(), tenantID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// ── Allocation ───────────────────────────────────────────────────────────────

func (h *Handler) listEligibleLots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListEligibleLots(r.Context(), tenantID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Lots == nil {
		res.Lots = []core.LotBalance{}
	}
	writeJSON(w, res)
}

func (h *Handler) issueManual(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.IssueManualRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TenantID, req.QueueID = tenantID(r), id
	res, err := h.svc.IssueManual(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) autoIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.AutoIssue(r.Context(), tenantID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) autoIssueAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AutoIssueAll(r.Context(), tenantID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) suggestMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.SuggestMapping(r.Context(), tenantID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// ── Lots and catalog ─────────────────────────────────────────────────────────

func (h *Handler) lotBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetLotBalance(r.Context(), tenantID(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListProducts(r.Context(), tenantID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
