package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/store"
)

// modalSpeech calls a Modal-hosted XTTS voice-cloning endpoint. The
// synthesized audio is published to the blob store and returned by URL.
type modalSpeech struct {
	base
	blobs store.Store
}

// Configured: the Modal web endpoint is unauthenticated, so only the URL
// is required.
func (p *modalSpeech) Configured() bool { return p.cfg.URL != "" }

func (p *modalSpeech) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Speech
	if in == nil || in.Text == "" {
		return nil, terminalError(p.Name(), "missing text")
	}
	if len(in.VoiceAudio) == 0 {
		return nil, terminalError(p.Name(), "missing voice sample")
	}
	lang := in.Language
	if lang == "" {
		lang = "en"
	}
	if !models.LanguageSupported(lang) {
		return nil, terminalError(p.Name(), "unsupported language %q (supported: %s)",
			lang, strings.Join(models.SupportedLanguages, ", "))
	}

	payload, _ := json.Marshal(map[string]string{
		"text":       in.Text,
		"voiceAudio": base64.StdEncoding.EncodeToString(in.VoiceAudio),
		"language":   lang,
	})

	body, err := p.post(ctx, p.cfg.URL, "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AudioBase64 string  `json:"audioBase64"`
		Duration    float64 `json:"duration"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.AudioBase64 == "" {
		return nil, terminalError(p.Name(), "empty audio in response")
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, terminalError(p.Name(), "undecodable audio in response")
	}

	result := models.SpeechResult{
		DurationSeconds: resp.Duration,
		Language:        lang,
		TextLength:      len(in.Text),
	}
	if p.blobs != nil {
		key := fmt.Sprintf("speech/%s.wav", blobName(audio))
		url, err := p.blobs.Upload(ctx, key, audio)
		if err != nil {
			return nil, fmt.Errorf("publish audio: %w", err)
		}
		result.AudioURL = url
	} else {
		result.AudioBase64 = resp.AudioBase64
	}

	out, _ := json.Marshal(result)
	return &Result{Body: out, CostUSD: p.textCost(len(in.Text))}, nil
}

// SniffAudioFormat detects the container of an audio sample by its magic
// bytes and returns a file extension. WAV starts with RIFF, WebM with
// 1A 45 DF A3, MP4 carries "ftyp" at offset 4; anything else is treated
// as WAV and left to the decoder.
func SniffAudioFormat(audio []byte) string {
	switch {
	case bytes.HasPrefix(audio, []byte("RIFF")):
		return ".wav"
	case bytes.HasPrefix(audio, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return ".webm"
	case len(audio) > 8 && bytes.Equal(audio[4:8], []byte("ftyp")):
		return ".mp4"
	default:
		return ".wav"
	}
}
