package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mark8pips/licensing/internal/store"
)

// productFiles maps the file query parameter to the artifact on disk under
// the secure files directory. Nothing outside this map is ever served.
var productFiles = map[string]string{
	"ea":     "mark8pips_ea.ex5",
	"manual": "user_manual.pdf",
	"set":    "recommended_settings.set",
}

type DownloadHandler struct {
	downloadStore *store.DownloadStore
	filesPath     string
	logger        *slog.Logger
}

func NewDownloadHandler(ds *store.DownloadStore, filesPath string, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{downloadStore: ds, filesPath: filesPath, logger: logger}
}

// Serve handles GET /download/{token}?file=ea|manual|set: checks the
// time-limited token and streams the requested artifact as an attachment.
func (h *DownloadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	fileType := r.URL.Query().Get("file")
	if fileType == "" {
		fileType = "ea"
	}

	name, ok := productFiles[fileType]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown file type")
		return
	}

	dt, err := h.downloadStore.GetValid(token, time.Now())
	if err != nil {
		h.logger.Error("get download token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dt == nil {
		writeError(w, http.StatusForbidden, "download link is invalid or has expired")
		return
	}

	path := filepath.Join(h.filesPath, name)
	if _, err := os.Stat(path); err != nil {
		h.logger.Error("product file missing", "path", path, "error", err)
		writeError(w, http.StatusNotFound, "file not available")
		return
	}

	if err := h.downloadStore.LogDownload(token, dt.AccountNumber, fileType, clientIP(r)); err != nil {
		h.logger.Error("log download", "error", err)
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
