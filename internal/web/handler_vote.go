package web

import (
	"net/http"
	"strconv"

	"github.com/vbonduro/vowselect/internal/service"
)

type castVoteRequest struct {
	RoomID  int64 `json:"room_id"`
	PhotoID int64 `json:"photo_id"`
	UserID  int64 `json:"user_id"`
	Score   int   `json:"score"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vote, created, err := s.votes.CastVote(r.Context(), req.RoomID, req.PhotoID, req.UserID, req.Score)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to cast vote")
		return
	}

	status, msg := http.StatusOK, "Vote updated"
	if created {
		status, msg = http.StatusCreated, "Vote created"
	}
	writeJSON(w, status, map[string]any{"message": msg, "vote": vote})
}

type undoVoteRequest struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

func (s *Server) handleUndoVote(w http.ResponseWriter, r *http.Request) {
	var req undoVoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vote, err := s.votes.UndoLastVote(r.Context(), req.RoomID, req.UserID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to undo vote")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Vote undone", "photo_id": vote.PhotoID})
}

func (s *Server) handleListUserVotes(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	votes, err := s.votes.ListUserVotes(r.Context(), roomID, userID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to list votes")
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) handlePhotoVotes(w http.ResponseWriter, r *http.Request) {
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
	summary, err := s.votes.PhotoVotes(r.Context(), photo.RoomID, photoID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get photo votes")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	rankings, err := s.rankings.ComputeRankings(r.Context(), roomID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to compute rankings")
		return
	}
	writeJSON(w, http.StatusOK, rankings)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	n, err := s.photos.InvalidateRoomCaches(r.Context(), roomID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to invalidate caches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req service.ExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.exports.ExportTop(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to export")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.exports.GetExportJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get export job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeServiceError(w, r, err, "failed to get room")
		return
	}

	// Upgrade writes its own error response.
	if err := s.hub.ServeWS(w, r, roomID); err != nil {
		s.logger.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
	}
}
