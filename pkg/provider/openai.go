package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vibelog/vibelog/pkg/models"
)

// openAITranscriber calls an OpenAI-compatible audio transcription
// endpoint (Whisper API shape).
type openAITranscriber struct {
	base
}

func (p *openAITranscriber) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Transcription
	if in == nil || len(in.Audio) == 0 {
		return nil, terminalError(p.Name(), "missing audio payload")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio"+SniffAudioFormat(in.Audio))
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := fw.Write(in.Audio); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	_ = mw.WriteField("model", p.cfg.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	body, err := p.post(ctx, p.cfg.URL+"/v1/audio/transcriptions", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, terminalError(p.Name(), "malformed transcription response: %v", err)
	}

	out, _ := json.Marshal(models.TranscriptionResult{Text: resp.Text, Language: resp.Language})
	return &Result{Body: out, CostUSD: p.cfg.CostUSD}, nil
}

// openAIImager calls an OpenAI-compatible image generation endpoint.
type openAIImager struct {
	base
}

const imageSize = "1792x1024"

func (p *openAIImager) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Image
	if in == nil || in.Title == "" {
		return nil, terminalError(p.Name(), "missing image input")
	}

	payload, _ := json.Marshal(map[string]any{
		"model":  p.cfg.Model,
		"prompt": coverPrompt(in),
		"n":      1,
		"size":   imageSize,
	})

	body, err := p.post(ctx, p.cfg.URL+"/v1/images/generations", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, terminalError(p.Name(), "malformed image response")
	}

	w, h := parseSize(imageSize)
	out, _ := json.Marshal(models.CoverImageResult{
		ImageURL: resp.Data[0].URL,
		Width:    w,
		Height:   h,
		Provider: p.Name(),
	})
	return &Result{Body: out, CostUSD: p.cfg.CostUSD}, nil
}

// openAITranslator is the chat-completion translation fallback.
type openAITranslator struct {
	base
}

func (p *openAITranslator) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Translation
	if in == nil || len(in.Fields) == 0 || len(in.TargetLangs) == 0 {
		return nil, terminalError(p.Name(), "missing translation input")
	}

	payload, _ := json.Marshal(map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a translation engine. Respond with JSON only."},
			{"role": "user", "content": translationPrompt(in)},
		},
		"response_format": map[string]string{"type": "json_object"},
	})

	body, err := p.post(ctx, p.cfg.URL+"/v1/chat/completions", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return nil, terminalError(p.Name(), "malformed chat response")
	}

	translations, err := parseTranslations(resp.Choices[0].Message.Content, in.TargetLangs)
	if err != nil {
		return nil, terminalError(p.Name(), "parse translations: %v", err)
	}

	cost := p.textCost(translationChars(in))
	out, _ := json.Marshal(models.TranslationResult{Translations: translations, TotalCostUSD: cost})
	return &Result{Body: out, CostUSD: cost}, nil
}

// post sends a request and normalizes non-2xx statuses.
func (b base) post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(b.cfg.Name, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func coverPrompt(in *models.CoverImageInput) string {
	var sb strings.Builder
	sb.WriteString("Editorial cover illustration for a blog post titled ")
	sb.WriteString(fmt.Sprintf("%q", in.Title))
	if in.Teaser != "" {
		sb.WriteString(". Teaser: ")
		sb.WriteString(in.Teaser)
	}
	sb.WriteString(". No text in the image.")
	return sb.String()
}

func translationPrompt(in *models.TranslationInput) string {
	fields, _ := json.Marshal(in.Fields)
	return fmt.Sprintf(
		"Translate the string values of this JSON object from %s into each of these languages: %s.\n"+
			"Reply with a single JSON object mapping each target language code to an object with the same keys.\n%s",
		in.SourceLang, strings.Join(in.TargetLangs, ", "), fields)
}

// parseTranslations decodes a model reply into per-language field maps,
// tolerating markdown code fences.
func parseTranslations(content string, targets []string) (map[string]map[string]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed map[string]map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return nil, err
	}
	for _, lang := range targets {
		if _, ok := parsed[lang]; !ok {
			return nil, fmt.Errorf("missing language %q in reply", lang)
		}
	}
	return parsed, nil
}

func translationChars(in *models.TranslationInput) int {
	total := 0
	for _, v := range in.Fields {
		total += len(v)
	}
	return total * len(in.TargetLangs)
}

func parseSize(size string) (w, h int) {
	_, err := fmt.Sscanf(size, "%dx%d", &w, &h)
	if err != nil {
		return 0, 0
	}
	return w, h
}
