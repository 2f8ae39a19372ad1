package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/models"
)

func buildTest(t *testing.T, op models.Operation, pc config.ProviderConfig) Provider {
	t.Helper()
	p, err := Build(op, pc, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTranscriberInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing bearer token")
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("expected multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected verbose_json, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "hello world", "language": "en"})
	}))
	defer srv.Close()

	p := buildTest(t, models.OpTranscription, config.ProviderConfig{
		Name: "openai-whisper", Type: "openai_transcribe",
		URL: srv.URL, APIKey: "test-key", Model: "whisper-1", CostUSD: 0.006,
	})

	res, err := p.Invoke(context.Background(), &Request{
		Operation:     models.OpTranscription,
		Transcription: &models.TranscriptionInput{Audio: []byte("RIFFxxxxWAVE")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CostUSD != 0.006 {
		t.Errorf("expected cost 0.006, got %f", res.CostUSD)
	}

	var out models.TranscriptionResult
	if err := json.Unmarshal(res.Body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Text != "hello world" || out.Language != "en" {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestTranscriberUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := buildTest(t, models.OpTranscription, config.ProviderConfig{
		Name: "openai-whisper", Type: "openai_transcribe",
		URL: srv.URL, APIKey: "test-key", Model: "whisper-1",
	})

	_, err := p.Invoke(context.Background(), &Request{
		Operation:     models.OpTranscription,
		Transcription: &models.TranscriptionInput{Audio: []byte("RIFF")},
	})
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected normalized provider error, got %v", err)
	}
	if pe.Status != http.StatusServiceUnavailable || pe.Reason != ReasonTransient {
		t.Errorf("expected transient 503, got %+v", pe)
	}
}

func TestImagerInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["size"] != "1792x1024" {
			t.Errorf("unexpected size %v", req["size"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/cover.png"}},
		})
	}))
	defer srv.Close()

	p := buildTest(t, models.OpCoverImage, config.ProviderConfig{
		Name: "openai-images", Type: "openai_image",
		URL: srv.URL, APIKey: "test-key", Model: "dall-e-3", CostUSD: 0.08,
	})

	res, err := p.Invoke(context.Background(), &Request{
		Operation: models.OpCoverImage,
		Image:     &models.CoverImageInput{Title: "My Post", Teaser: "teaser"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out models.CoverImageResult
	if err := json.Unmarshal(res.Body, &out); err != nil {
		t.Fatal(err)
	}
	if out.ImageURL != "https://img.example/cover.png" {
		t.Errorf("unexpected url %s", out.ImageURL)
	}
	if out.Width != 1792 || out.Height != 1024 {
		t.Errorf("unexpected dimensions %dx%d", out.Width, out.Height)
	}
	if out.Degraded {
		t.Error("live result must not be flagged degraded")
	}
}

func TestTranslatorInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := `{"es":{"title":"Hola"},"fr":{"title":"Bonjour"}}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
	defer srv.Close()

	p := buildTest(t, models.OpTranslation, config.ProviderConfig{
		Name: "openai-chat", Type: "openai_chat",
		URL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini",
		CostPer1KChars: 0.01,
	})

	res, err := p.Invoke(context.Background(), &Request{
		Operation: models.OpTranslation,
		Translation: &models.TranslationInput{
			Fields:      map[string]string{"title": "Hello"},
			SourceLang:  "en",
			TargetLangs: []string{"es", "fr"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out models.TranslationResult
	if err := json.Unmarshal(res.Body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Translations["es"]["title"] != "Hola" || out.Translations["fr"]["title"] != "Bonjour" {
		t.Errorf("unexpected translations: %v", out.Translations)
	}
	if res.CostUSD <= 0 {
		t.Error("per-character pricing should yield a positive cost")
	}
}

func TestParseTranslations(t *testing.T) {
	targets := []string{"es"}

	got, err := parseTranslations("```json\n{\"es\":{\"title\":\"Hola\"}}\n```", targets)
	if err != nil {
		t.Fatalf("fenced reply should parse: %v", err)
	}
	if got["es"]["title"] != "Hola" {
		t.Errorf("unexpected parse: %v", got)
	}

	if _, err := parseTranslations(`{"fr":{"title":"Bonjour"}}`, targets); err == nil {
		t.Error("reply missing a target language should be rejected")
	}

	if _, err := parseTranslations("not json", targets); err == nil {
		t.Error("non-JSON reply should be rejected")
	}
}

func TestParseSize(t *testing.T) {
	w, h := parseSize("1792x1024")
	if w != 1792 || h != 1024 {
		t.Errorf("expected 1792x1024, got %dx%d", w, h)
	}
	if w, h := parseSize("garbage"); w != 0 || h != 0 {
		t.Errorf("expected 0x0 for garbage, got %dx%d", w, h)
	}
}

func TestUnconfiguredAdapter(t *testing.T) {
	p := buildTest(t, models.OpTranscription, config.ProviderConfig{
		Name: "openai-whisper", Type: "openai_transcribe", URL: "https://api.openai.com",
	})
	if p.Configured() {
		t.Error("adapter without an api key should report unconfigured")
	}
}
