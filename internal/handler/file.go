package handler

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

var allowedExt = regexp.MustCompile(`(?i)^(?:jpg|png|jpeg|mp4|3gp|mpeg|mov|mp3)$`)

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "mp4":
		return "video/mp4"
	case "3gp":
		return "video/3gpp"
	case "mov":
		return "video/quicktime"
	case "mpeg":
		return "video/mpeg"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

// ServeFile handles GET /file/{fileId}/{filename}: it streams the
// stored bytes with a content type derived from the name's extension.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	filename := chi.URLParam(r, "filename")

	dot := strings.LastIndex(filename, ".")
	if dot < 0 || dot == len(filename)-1 {
		h.errorResponse(w, http.StatusBadRequest, "filename must carry an extension")
		return
	}
	ext := filename[dot+1:]
	if !allowedExt.MatchString(ext) {
		h.errorResponse(w, http.StatusBadRequest, "extension not allowed")
		return
	}

	body, size, err := h.store.OpenRead(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.errorResponse(w, http.StatusNotFound, "file not found")
			return
		}
		h.log.Error().Err(err).Str("file_id", fileID).Msg("failed to open file")
		h.errorResponse(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentTypeForExt(ext))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn().Err(err).Str("file_id", fileID).Msg("file stream interrupted")
	}
}

// DeleteFile handles DELETE /file/{fileId}: it removes the blob and
// its metadata record.
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	if _, err := h.store.Stat(r.Context(), fileID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.errorResponse(w, http.StatusNotFound, "file not found")
			return
		}
		h.log.Error().Err(err).Str("file_id", fileID).Msg("failed to stat file")
		h.errorResponse(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	if err := h.store.Delete(r.Context(), fileID); err != nil {
		h.log.Error().Err(err).Str("file_id", fileID).Msg("failed to delete blob")
		h.errorResponse(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	if err := h.repo.Delete(r.Context(), fileID); err != nil {
		// blob is gone, the cleaner picks up the orphaned record
		h.log.Warn().Err(err).Str("file_id", fileID).Msg("failed to delete file record")
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
