package web

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/service"
	"github.com/vbonduro/vowselect/internal/source"
)

type uploadedFile struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type importRequest struct {
	SourceType       domain.SourceKind `json:"source_type"`
	FolderPath       string            `json:"folder_path"`
	DriveFolderID    string            `json:"drive_folder_id"`
	DriveAccessToken string            `json:"drive_access_token"`
	Files            []uploadedFile    `json:"files"`
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func decodeUploads(files []uploadedFile) ([]source.Item, error) {
	items := make([]source.Item, 0, len(files))
	for i, f := range files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("file %d: invalid base64 data", i)
		}
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("upload_%d", i)
		}
		items = append(items, source.Item{Name: name, Data: data})
	}
	return items, nil
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var req importRequest
	if err := decodeJSONLimit(w, r, &req, maxImportBody); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uploads, err := decodeUploads(req.Files)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token := req.DriveAccessToken
	if token == "" {
		token = bearerToken(r)
	}

	summary, err := s.imports.StartImport(r.Context(), service.ImportRequest{
		RoomID:        roomID,
		SourceType:    req.SourceType,
		FolderPath:    req.FolderPath,
		DriveFolderID: req.DriveFolderID,
		AccessToken:   token,
		Uploads:       uploads,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "failed to start import")
		return
	}

	status := http.StatusOK
	if summary.Status == domain.JobProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, summary)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	job, err := s.imports.GetJobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get import job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
