package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/vibelog/vibelog/pkg/coordinator"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/provider"
)

// maxBodyBytes bounds inbound request bodies; audio samples dominate.
const maxBodyBytes = 25 << 20

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	r.Body.Close()
	if err := json.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioBase64      string `json:"audioBase64"`
		StorageReference string `json:"storageReference"`
		TargetResourceID string `json:"targetResourceId"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}

	var audio []byte
	switch {
	case req.AudioBase64 != "":
		var err error
		audio, err = base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "audioBase64 is not valid base64")
			return
		}
	case req.StorageReference != "":
		var err error
		audio, err = s.blobs.Download(r.Context(), req.StorageReference)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown storageReference")
			return
		}
	default:
		writeJSONError(w, http.StatusBadRequest, "missing audioBase64 or storageReference")
		return
	}

	id := s.identify(r)
	resp, err := s.coord.Generate(r.Context(), &coordinator.Request{
		Operation:      models.OpTranscription,
		Identity:       id,
		ResourceKey:    req.TargetResourceID,
		CanonicalInput: audio,
		Input: &provider.Request{
			Operation:     models.OpTranscription,
			Transcription: &models.TranscriptionInput{Audio: audio},
		},
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	s.respond(w, id, resp)
}

func (s *Server) handleCoverImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TitleText        string `json:"titleText"`
		TeaserText       string `json:"teaserText"`
		TargetResourceID string `json:"targetResourceId"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.TitleText == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'titleText' field")
		return
	}

	in := &models.CoverImageInput{
		Title:      req.TitleText,
		Teaser:     req.TeaserText,
		ResourceID: req.TargetResourceID,
	}
	canonical, _ := json.Marshal(in)

	id := s.identify(r)
	resp, err := s.coord.Generate(r.Context(), &coordinator.Request{
		Operation:      models.OpCoverImage,
		Identity:       id,
		ResourceKey:    req.TargetResourceID,
		CanonicalInput: canonical,
		Input:          &provider.Request{Operation: models.OpCoverImage, Image: in},
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "cover image generation failed")
		return
	}
	s.respond(w, id, resp)
}

func (s *Server) handleTranslation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceFields        map[string]string `json:"sourceFields"`
		SourceLanguageCode  string            `json:"sourceLanguageCode"`
		TargetLanguageCodes []string          `json:"targetLanguageCodes"`
		TargetResourceID    string            `json:"targetResourceId"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.SourceFields) == 0 {
		writeJSONError(w, http.StatusBadRequest, "missing 'sourceFields' field")
		return
	}
	if len(req.TargetLanguageCodes) == 0 {
		writeJSONError(w, http.StatusBadRequest, "missing 'targetLanguageCodes' field")
		return
	}
	for _, lang := range req.TargetLanguageCodes {
		if !models.LanguageSupported(lang) {
			writeUnsupportedLanguage(w, lang)
			return
		}
	}

	in := &models.TranslationInput{
		Fields:      req.SourceFields,
		SourceLang:  req.SourceLanguageCode,
		TargetLangs: req.TargetLanguageCodes,
	}
	canonical, _ := json.Marshal(in)

	id := s.identify(r)
	resp, err := s.coord.Generate(r.Context(), &coordinator.Request{
		Operation:      models.OpTranslation,
		Identity:       id,
		ResourceKey:    req.TargetResourceID,
		CanonicalInput: canonical,
		Input:          &provider.Request{Operation: models.OpTranslation, Translation: in},
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "translation failed")
		return
	}
	s.respond(w, id, resp)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text             string `json:"text"`
		VoiceAudio       string `json:"voiceAudio"`
		Language         string `json:"language"`
		TargetResourceID string `json:"targetResourceId"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'text' field")
		return
	}
	if req.VoiceAudio == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'voiceAudio' field")
		return
	}
	voice, err := base64.StdEncoding.DecodeString(req.VoiceAudio)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "voiceAudio is not valid base64")
		return
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	if !models.LanguageSupported(lang) {
		writeUnsupportedLanguage(w, lang)
		return
	}

	in := &models.SpeechInput{Text: req.Text, VoiceAudio: voice, Language: lang}
	canonical, _ := json.Marshal(in)

	id := s.identify(r)
	resp, err := s.coord.Generate(r.Context(), &coordinator.Request{
		Operation:      models.OpSpeech,
		Identity:       id,
		ResourceKey:    req.TargetResourceID,
		CanonicalInput: canonical,
		Input:          &provider.Request{Operation: models.OpSpeech, Speech: in},
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}
	s.respond(w, id, resp)
}

func writeUnsupportedLanguage(w http.ResponseWriter, lang string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":     "unsupported language: " + lang,
		"supported": models.SupportedLanguages,
	})
}
