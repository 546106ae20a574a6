package web

import (
	"io"
	"net/http"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/service"
	"github.com/vbonduro/vowselect/internal/source"
)

const (
	maxPhotoSize  = 50 * 1024 * 1024  // 50 MB
	maxUploadSize = 500 * 1024 * 1024 // whole multipart request
)

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, GIF and BMP via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniffing rules (and
// therefore the stdlib) do not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// isTIFF reports whether data starts with a little or big endian TIFF header.
func isTIFF(data []byte) bool {
	return len(data) >= 4 &&
		(string(data[0:4]) == "II*\x00" || string(data[0:4]) == "MM\x00*")
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	if isTIFF(data) {
		return "image/tiff", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// handleUpload imports the multipart "files" parts as an upload source.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	items := make([]source.Item, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxPhotoSize {
			writeError(w, http.StatusBadRequest, fh.Filename+": file too large")
			return
		}
		file, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to open "+fh.Filename)
			return
		}
		data, err := io.ReadAll(file)
		s.closeWithLog(file, "upload file")
		if err != nil {
			s.writeServiceError(w, r, err, "failed to read file")
			return
		}
		if _, ok := allowedImageMIME(data); !ok {
			writeError(w, http.StatusBadRequest, fh.Filename+": unsupported image format")
			return
		}
		items = append(items, source.Item{Name: fh.Filename, Data: data})
	}

	summary, err := s.imports.StartImport(r.Context(), service.ImportRequest{
		RoomID:     roomID,
		SourceType: domain.SourceUpload,
		Uploads:    items,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "failed to import uploads")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
