package web

import (
	"io"
	"net/http"

	"github.com/vbonduro/vowselect/internal/service"
)

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.photos.ListReadyPhotos(r.Context(), roomID, skip, limit)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to list photos")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	photoID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid photo id")
		return
	}

	photo, err := s.photos.GetPhoto(r.Context(), photoID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get photo")
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handleGetPhotoImage(w http.ResponseWriter, r *http.Request) {
	photoID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid photo id")
		return
	}

	reader, mimeType, err := s.photos.OpenPayload(r.Context(), photoID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to open photo")
		return
	}
	defer s.closeWithLog(reader, "photo reader")

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "photo_id", photoID, "error", err)
	}
}
