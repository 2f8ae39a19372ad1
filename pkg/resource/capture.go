package resource

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vibelog/vibelog/pkg/models"
)

// CaptureRecord is the lossy last-resort record of a paid generation that
// could not be persisted through the normal path.
type CaptureRecord struct {
	ResourceID string           `json:"resource_id,omitempty"`
	Operation  models.Operation `json:"operation"`
	Provider   string           `json:"provider,omitempty"`
	Identity   string           `json:"identity,omitempty"`
	Body       json.RawMessage  `json:"body,omitempty"`
	Reason     string           `json:"reason"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Capture writes failure-capture records to a directory, one JSON file
// per incident, for manual recovery.
type Capture struct {
	dir string
}

// NewCapture creates the capture directory if needed.
func NewCapture(dir string) (*Capture, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Capture{dir: dir}, nil
}

// Write persists a record and returns the file path it landed in.
func (c *Capture) Write(rec CaptureRecord) (string, error) {
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	suffix := make([]byte, 3)
	rand.Read(suffix)
	name := fmt.Sprintf("failed_%s_%s.json",
		rec.CapturedAt.Format("20060102T150405"), hex.EncodeToString(suffix))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal capture: %w", err)
	}

	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path, nil
}
