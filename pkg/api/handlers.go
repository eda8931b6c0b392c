// Copyright 2024-2026 Aiku AI

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

type sendMessageRequest struct {
	To      string `json:"to"`
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

type sendMediaRequest struct {
	To       string `json:"to"`
	GroupID  string `json:"groupId"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption"`
}

type chatJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsGroup      bool   `json:"isGroup"`
	Participants int    `json:"participants,omitempty"`
}

func chatsJSON(chats []relay.Chat) []chatJSON {
	out := make([]chatJSON, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatJSON{ID: c.ID, Name: c.Name, IsGroup: c.IsGroup, Participants: c.Participants})
	}
	return out
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "", s.backend.Status())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s.sendMessage(w, r, false)
}

func (s *Server) handleSendMessageGroup(w http.ResponseWriter, r *http.Request) {
	s.sendMessage(w, r, true)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, group bool) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	target, field := req.To, "to"
	if group {
		target, field = req.GroupID, "groupId"
	}
	if strings.TrimSpace(target) == "" || req.Message == "" {
		s.fail(w, http.StatusBadRequest, "Missing required fields: "+field+" and message")
		return
	}
	chatID, err := relay.ToChatID(target, group)
	if err != nil {
		s.failErr(w, r, "Failed to send message", err)
		return
	}
	sent, err := s.backend.SendText(r.Context(), chatID, req.Message)
	if err != nil {
		s.failErr(w, r, "Failed to send message", err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("to", chatID).Str("message_id", sent.ID).Msg("Message sent")
	s.ok(w, "Message sent successfully", nil)
}

// handleSendMessageGlobal sends to an identifier that is already complete,
// either a user or a group.
func (s *Server) handleSendMessageGlobal(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.To == "" || req.Message == "" {
		s.fail(w, http.StatusBadRequest, "Missing required fields: to and message")
		return
	}
	if err := relay.ValidateChatID(req.To); err != nil {
		s.failErr(w, r, "Failed to send message", err)
		return
	}
	sent, err := s.backend.SendText(r.Context(), req.To, req.Message)
	if err != nil {
		s.failErr(w, r, "Failed to send message", err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("to", req.To).Str("message_id", sent.ID).Msg("Message sent")
	s.ok(w, "Message sent successfully", nil)
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	s.sendMedia(w, r, false)
}

func (s *Server) handleSendMediaGroup(w http.ResponseWriter, r *http.Request) {
	s.sendMedia(w, r, true)
}

// sendMedia accepts either a multipart upload with to, caption and file
// fields or a JSON body with a mediaUrl to fetch.
func (s *Server) sendMedia(w http.ResponseWriter, r *http.Request, group bool) {
	var (
		target, caption string
		media           *relay.MediaPayload
		err             error
	)
	field := "to"
	if group {
		field = "groupId"
	}
	if isMultipart(r) {
		var upload *multipartUpload
		upload, err = s.readUpload(w, r, field)
		if err != nil {
			s.fail(w, http.StatusBadRequest, err.Error())
			return
		}
		target, caption, media = upload.target, upload.caption, upload.media
	} else {
		var req sendMediaRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		target = req.To
		if group {
			target = req.GroupID
		}
		if strings.TrimSpace(target) == "" || req.MediaURL == "" {
			s.fail(w, http.StatusBadRequest, "Missing required fields: "+field+" and mediaUrl")
			return
		}
		caption = req.Caption
		media, err = s.fetchMedia(r.Context(), req.MediaURL)
		if err != nil {
			s.failErr(w, r, "Failed to fetch media", err)
			return
		}
	}

	chatID, err := relay.ToChatID(target, group)
	if err != nil {
		s.failErr(w, r, "Failed to send media", err)
		return
	}
	sent, err := s.backend.SendMedia(r.Context(), chatID, media, caption)
	if err != nil {
		s.failErr(w, r, "Failed to send media", err)
		return
	}
	zerolog.Ctx(r.Context()).Info().
		Str("to", chatID).
		Str("message_id", sent.ID).
		Str("mime_type", media.MimeType).
		Int("size", media.Size()).
		Msg("Media sent")
	s.ok(w, "Media sent successfully", nil)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.backend.GetChats(r.Context())
	if err != nil {
		s.failErr(w, r, "Failed to get chats", err)
		return
	}
	s.ok(w, "", chatsJSON(chats))
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.backend.GetGroups(r.Context())
	if err != nil {
		s.failErr(w, r, "Failed to get groups", err)
		return
	}
	s.ok(w, "", chatsJSON(groups))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Logout(r.Context()); err != nil {
		s.failErr(w, r, "Failed to logout", err)
		return
	}
	s.ok(w, "Logged out successfully", nil)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.backend.Destroy()
	zerolog.Ctx(r.Context()).Warn().Msg("Session destroyed through the API")
	s.ok(w, "Client destroyed successfully", nil)
}
