package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vibelog/vibelog/pkg/models"
)

// geminiTranslator is the primary translation provider, backed by the
// Gemini SDK.
type geminiTranslator struct {
	base

	once    sync.Once
	client  *genai.Client
	model   *genai.GenerativeModel
	initErr error
}

// Configured: the Gemini SDK needs only an API key.
func (p *geminiTranslator) Configured() bool { return p.cfg.APIKey != "" }

func (p *geminiTranslator) init(ctx context.Context) error {
	p.once.Do(func() {
		client, err := genai.NewClient(ctx, option.WithAPIKey(p.cfg.APIKey))
		if err != nil {
			p.initErr = fmt.Errorf("create gemini client: %w", err)
			return
		}
		p.client = client
		p.model = client.GenerativeModel(p.cfg.Model)
		p.model.ResponseMIMEType = "application/json"
	})
	return p.initErr
}

func (p *geminiTranslator) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Translation
	if in == nil || len(in.Fields) == 0 || len(in.TargetLangs) == 0 {
		return nil, terminalError(p.Name(), "missing translation input")
	}
	if err := p.init(ctx); err != nil {
		return nil, terminalError(p.Name(), "%v", err)
	}

	resp, err := p.model.GenerateContent(ctx, genai.Text(translationPrompt(in)))
	if err != nil {
		return nil, p.normalize(err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, terminalError(p.Name(), "empty model response")
	}

	translations, err := parseTranslations(text, in.TargetLangs)
	if err != nil {
		return nil, terminalError(p.Name(), "parse translations: %v", err)
	}

	cost := p.textCost(translationChars(in))
	out, _ := json.Marshal(models.TranslationResult{Translations: translations, TotalCostUSD: cost})
	return &Result{Body: out, CostUSD: cost}, nil
}

// normalize maps SDK failures onto the shared classification vocabulary.
func (p *geminiTranslator) normalize(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusError(p.Name(), gerr.Code, gerr.Message)
	}
	var berr *genai.BlockedError
	if errors.As(err, &berr) {
		return &Error{Provider: p.Name(), Reason: ReasonContentPolicy, Message: "prompt blocked by safety settings"}
	}
	// Transport-level SDK errors carry no status; let the generic
	// network classification decide.
	return err
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	out := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out += string(t)
		}
	}
	return out
}
