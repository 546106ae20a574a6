package web

import (
	"net/http"
	"strconv"
	"strings"
)

type createUserRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.users.CreateUser(r.Context(), req.Username)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type joinRoomRequest struct {
	Code     string `json:"code"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "code and user_id are required")
		return
	}

	room, joined, err := s.rooms.JoinRoom(r.Context(), strings.TrimSpace(req.Code), req.UserID, req.Username)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to join room")
		return
	}

	msg := "Joined successfully"
	if !joined {
		msg = "Already in room"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"room":    room,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	details, err := s.rooms.GetRoom(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to get room")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	participants, err := s.rooms.ListParticipants(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "failed to list participants")
		return
	}
	writeJSON(w, http.StatusOK, participants)
}
