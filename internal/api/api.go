// Package api exposes the REST surface that complements the WebSocket
// protocol: message history and reaction fetch for late joiners, friend
// listings, externally-triggered status updates, and attachment uploads.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/converge/chat-app/internal/blob"
	"github.com/converge/chat-app/internal/errs"
	"github.com/converge/chat-app/internal/fanout"
	"github.com/converge/chat-app/internal/friend"
	"github.com/converge/chat-app/internal/presence"
	"github.com/converge/chat-app/internal/reaction"
)

// Handler serves the /api routes. Identity comes from the X-User-ID header,
// matching the WebSocket upgrade contract.
type Handler struct {
	fanout    *fanout.Service
	reactions *reaction.Aggregator
	friends   *friend.Service
	presence  *presence.Tracker
	blobs     blob.Store
}

func NewHandler(fan *fanout.Service, reactions *reaction.Aggregator, friends *friend.Service, tracker *presence.Tracker, blobs blob.Store) *Handler {
	return &Handler{
		fanout:    fan,
		reactions: reactions,
		friends:   friends,
		presence:  tracker,
		blobs:     blobs,
	}
}

// Routes returns the mux for the /api prefix.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.requireUser(h.handleHistory))
	mux.HandleFunc("GET /api/messages/{id}/reactions", h.requireUser(h.handleReactions))
	mux.HandleFunc("GET /api/friends", h.requireUser(h.handleFriends))
	mux.HandleFunc("GET /api/friends/requests", h.requireUser(h.handlePendingRequests))
	mux.HandleFunc("PUT /api/status", h.requireUser(h.handleStatus))
	mux.HandleFunc("POST /api/attachments", h.requireUser(h.handleAttachment))
	return mux
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (h *Handler) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		next(w, r, userID)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, userID string) {
	conversationID := r.PathValue("id")

	before := time.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "before must be RFC3339")
			return
		}
		before = t
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, err := h.fanout.History(r.Context(), userID, conversationID, before, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type item struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		SenderName     string `json:"senderName"`
		SenderAvatar   string `json:"senderAvatar,omitempty"`
		Content        string `json:"content"`
		ContentType    string `json:"contentType"`
		IsDeleted      bool   `json:"isDeleted"`
		Ts             int64  `json:"ts"`
	}
	out := make([]item, 0, len(messages))
	for _, m := range messages {
		out = append(out, item{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderName:     m.SenderName,
			SenderAvatar:   m.SenderAvatar,
			Content:        m.Content,
			ContentType:    m.ContentType,
			IsDeleted:      m.IsDeleted,
			Ts:             m.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

func (h *Handler) handleReactions(w http.ResponseWriter, r *http.Request, _ string) {
	snapshot, err := h.reactions.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reactions": snapshot})
}

func (h *Handler) handleFriends(w http.ResponseWriter, r *http.Request, userID string) {
	friends, err := h.friends.ListFriends(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	type item struct {
		FriendID string `json:"friendId"`
		Online   bool   `json:"online"`
		Since    int64  `json:"since"`
	}
	out := make([]item, 0, len(friends))
	for _, f := range friends {
		online, _ := h.presence.Status(f.FriendID)
		out = append(out, item{FriendID: f.FriendID, Online: online, Since: f.Since})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"friends": out})
}

func (h *Handler) handlePendingRequests(w http.ResponseWriter, r *http.Request, userID string) {
	pending, err := h.friends.ListPending(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	type item struct {
		RequesterID string `json:"requesterId"`
		CreatedAt   int64  `json:"createdAt"`
	}
	out := make([]item, 0, len(pending))
	for _, p := range pending {
		out = append(out, item{RequesterID: p.RequesterID, CreatedAt: p.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": out})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if body.Status != presence.StatusOnline && body.Status != presence.StatusOffline {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "status must be online or offline")
		return
	}

	h.presence.SetStatus(userID, body.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

func (h *Handler) handleAttachment(w http.ResponseWriter, r *http.Request, userID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, blob.MaxAttachmentBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "unreadable upload")
		return
	}

	url, err := h.blobs.Upload(r.Context(), data, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("api: attachment uploaded user=%s size=%d", userID, len(data))
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrTransientStore):
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, errs.Code(err), err.Error())
}
