package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openpredict/marketd/internal/domain"
)

// ArchiveLister lists stored market archive objects.
type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
}

// AdminHandler serves operator-only inspection endpoints. The audit store
// and archive lister are optional; endpoints report 404 when the backing
// component is not configured.
type AdminHandler struct {
	audit    domain.AuditStore
	archives ArchiveLister
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(audit domain.AuditStore, archives ArchiveLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		audit:    audit,
		archives: archives,
		logger:   logger,
	}
}

// listAuditResponse wraps the audit listing output.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListAudit returns recorded engine decisions, optionally filtered by event.
// GET /api/admin/audit?event=trade&limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}

	opts := parseListOpts(r)
	event := r.URL.Query().Get("event")

	entries, err := h.audit.List(r.Context(), event, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: entries,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// listArchivesResponse wraps the archive listing output.
type listArchivesResponse struct {
	Archives []domain.BlobInfo `json:"archives"`
	Total    int               `json:"total"`
}

// ListArchives returns the resolved-market archive objects in blob storage.
// GET /api/admin/archives
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}

	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{
		Archives: infos,
		Total:    len(infos),
	})
}
