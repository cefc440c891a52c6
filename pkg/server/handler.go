package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/realtime-ai/voiceloop/pkg/capture"
	"github.com/realtime-ai/voiceloop/pkg/engine"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"golang.org/x/sync/errgroup"
)

// Settings is the body of GET and PUT /settings.
type Settings struct {
	Model          string `json:"model"`
	ModelName      string `json:"model_display_name,omitempty"`
	SupportsImages bool   `json:"supports_images"`
	PromptTemplate string `json:"prompt_template"`
	SpeechRate     int    `json:"speech_rate"`
	HasImage       bool   `json:"has_image"`
	ImageName      string `json:"image_name,omitempty"`
}

// settingsUpdate is a partial PUT /settings body.
type settingsUpdate struct {
	Model          *string `json:"model"`
	PromptTemplate *string `json:"prompt_template"`
	SpeechRate     *int    `json:"speech_rate"`
}

// ModelStatus is one entry of GET /models.
type ModelStatus struct {
	Name           string `json:"name"`
	ServiceID      string `json:"service_id"`
	DisplayName    string `json:"display_name"`
	SupportsImages bool   `json:"supports_images"`
	Available      bool   `json:"available"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"engine": string(s.controller.Status()),
	})
}

func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StartListening(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrUnsupportedFormat) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}

func (s *Server) handleListenStop(w http.ResponseWriter, r *http.Request) {
	s.controller.StopListening()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}

func (s *Server) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.controller.ForceStop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsOf(s.controller.TurnConfig()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var upd settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := s.controller.TurnConfig()
	if upd.Model != nil {
		m, err := llm.ParseModel(*upd.Model)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg.Model = m
	}
	if upd.PromptTemplate != nil {
		cfg.PromptTemplate = *upd.PromptTemplate
	}
	if upd.SpeechRate != nil {
		cfg.SpeechRate = *upd.SpeechRate
	}

	s.controller.SetTurnConfig(cfg)
	writeJSON(w, http.StatusOK, settingsOf(s.controller.TurnConfig()))
}

// handlePutImage replaces the attached image with the raw request body.
func (s *Server) handlePutImage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxImageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty image"))
		return
	}

	cfg := s.controller.TurnConfig()
	cfg.Image = data
	cfg.ImageName = r.URL.Query().Get("name")
	s.controller.SetTurnConfig(cfg)
	log.Printf("[Server] image attached (%d bytes)", len(data))
	writeJSON(w, http.StatusOK, settingsOf(s.controller.TurnConfig()))
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	cfg := s.controller.TurnConfig()
	cfg.Image = nil
	cfg.ImageName = ""
	s.controller.SetTurnConfig(cfg)
	writeJSON(w, http.StatusOK, settingsOf(s.controller.TurnConfig()))
}

// handleModels pings every model concurrently.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := llm.Models()
	out := make([]ModelStatus, len(models))

	g, ctx := errgroup.WithContext(r.Context())
	for i, m := range models {
		out[i] = ModelStatus{
			Name:           m.String(),
			ServiceID:      m.ServiceID(),
			DisplayName:    m.DisplayName(),
			SupportsImages: m.SupportsImages(),
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.config.PingTimeout)
			defer cancel()
			if err := s.controller.Inference().Ping(pctx, m); err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Available = true
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, out)
}

func settingsOf(cfg engine.TurnConfig) Settings {
	return Settings{
		Model:          cfg.Model.String(),
		ModelName:      cfg.Model.DisplayName(),
		SupportsImages: cfg.Model.SupportsImages(),
		PromptTemplate: cfg.PromptTemplate,
		SpeechRate:     cfg.SpeechRate,
		HasImage:       len(cfg.Image) > 0,
		ImageName:      cfg.ImageName,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
