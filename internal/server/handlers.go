package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"persona-rag/internal/models"
)

// maxChatBody bounds the size of a chat request body
const maxChatBody = 64 << 10

type chatRequest struct {
	PersonalityID string `json:"personality_id"`
	Message       string `json:"message"`
}

type personality struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Domain           string   `json:"domain"`
	Quote            string   `json:"quote"`
	AccentColor      string   `json:"accent_color"`
	Available        bool     `json:"available"`
	SuggestedPrompts []string `json:"suggested_prompts,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PersonalityID == "" || strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "Missing personality_id or message")
		return
	}

	res, err := s.personas.Query(r.Context(), req.PersonalityID, req.Message)
	if err != nil {
		status, msg := statusFor(err)
		ev := hlog.FromRequest(r).Error()
		if status < http.StatusInternalServerError {
			ev = hlog.FromRequest(r).Warn()
		}
		ev.Err(err).Str("persona", req.PersonalityID).Str("kind", string(models.KindOf(err))).Msg("Chat failed")
		s.respondError(w, status, msg)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePersonalities(w http.ResponseWriter, r *http.Request) {
	profiles := s.personas.Personas()
	out := make([]personality, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, personality{
			ID:               p.ID,
			Name:             p.Name,
			Domain:           p.Domain,
			Quote:            p.Quote,
			AccentColor:      p.AccentColor,
			Available:        p.Available,
			SuggestedPrompts: p.SuggestedPrompts,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a pipeline error to a status code and a message that is
// safe to show to the caller. Details stay in the log.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrPersonaNotFound):
		return http.StatusNotFound, "Personality not found"
	case errors.Is(err, models.ErrPersonaUnavailable):
		return http.StatusNotFound, "Personality not available"
	case errors.Is(err, models.ErrEmptyQuestion):
		return http.StatusBadRequest, "Missing personality_id or message"
	}
	switch models.KindOf(err) {
	case models.KindNotInitialized:
		return http.StatusNotFound, "Personality is not ready yet"
	case models.KindConfiguration:
		return http.StatusBadRequest, "The request could not be processed"
	case models.KindEmbedding, models.KindGeneration:
		return http.StatusBadGateway, "The language model is unavailable, please try again later"
	default:
		return http.StatusInternalServerError, "An internal error occurred"
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
