package provider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/store"
)

// stabilityImager calls a Stability-compatible image endpoint that returns
// the image as base64; the bytes are published to the blob store.
type stabilityImager struct {
	base
	blobs store.Store
}

const (
	stabilityAspect = "16:9"
	stabilityWidth  = 1344
	stabilityHeight = 768
)

func (p *stabilityImager) Invoke(ctx context.Context, req *Request) (*Result, error) {
	in := req.Image
	if in == nil || in.Title == "" {
		return nil, terminalError(p.Name(), "missing image input")
	}

	payload, _ := json.Marshal(map[string]string{
		"prompt":        coverPrompt(in),
		"aspect_ratio":  stabilityAspect,
		"output_format": "png",
	})

	body, err := p.post(ctx, p.cfg.URL, "application/json", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Image        string `json:"image"`
		FinishReason string `json:"finish_reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, terminalError(p.Name(), "malformed image response: %v", err)
	}
	if resp.FinishReason == "CONTENT_FILTERED" {
		return nil, &Error{Provider: p.Name(), Reason: ReasonContentPolicy, Message: "image filtered by moderation"}
	}
	if resp.Image == "" {
		return nil, terminalError(p.Name(), "empty image in response")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, terminalError(p.Name(), "undecodable image in response")
	}

	url := ""
	if p.blobs != nil {
		key := fmt.Sprintf("covers/%s.png", blobName(img))
		url, err = p.blobs.Upload(ctx, key, img)
		if err != nil {
			return nil, fmt.Errorf("publish image: %w", err)
		}
	}

	out, _ := json.Marshal(models.CoverImageResult{
		ImageURL: url,
		Width:    stabilityWidth,
		Height:   stabilityHeight,
		Provider: p.Name(),
	})
	return &Result{Body: out, CostUSD: p.cfg.CostUSD}, nil
}

// blobName derives a stable blob key from content bytes.
func blobName(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
