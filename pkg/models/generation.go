package models

// TranscriptionInput is the inbound payload for the transcription operation.
// Either Audio or StorageKey must be set; StorageKey refers to a previously
// uploaded blob.
type TranscriptionInput struct {
	Audio      []byte `json:"audioBytes,omitempty"`
	StorageKey string `json:"storageReference,omitempty"`
}

// TranscriptionResult is the transcription operation output.
type TranscriptionResult struct {
	Text     string `json:"transcriptionText"`
	Language string `json:"detectedLanguageCode"`
}

// CoverImageInput is the inbound payload for cover image generation.
type CoverImageInput struct {
	Title      string `json:"titleText"`
	Teaser     string `json:"teaserText,omitempty"`
	ResourceID string `json:"targetResourceId,omitempty"`
}

// CoverImageResult is the cover image operation output.
type CoverImageResult struct {
	ImageURL string `json:"imageUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Provider string `json:"providerUsed"`
	Degraded bool   `json:"isDegraded"`
}

// TranslationInput carries source fields and the target language set.
type TranslationInput struct {
	Fields      map[string]string `json:"sourceFields"`
	SourceLang  string            `json:"sourceLanguageCode"`
	TargetLangs []string          `json:"targetLanguageCodes"`
}

// TranslationResult maps each target language code to its translated fields.
type TranslationResult struct {
	Translations map[string]map[string]string `json:"perLanguageTranslatedFields"`
	TotalCostUSD float64                      `json:"totalCost"`
}

// SpeechInput is the inbound payload for voice-clone speech synthesis.
// VoiceAudio is a sample of the voice to clone.
type SpeechInput struct {
	Text       string `json:"text"`
	VoiceAudio []byte `json:"voiceAudio"`
	Language   string `json:"language,omitempty"`
}

// SpeechResult is the speech operation output.
type SpeechResult struct {
	AudioURL        string  `json:"audioUrl,omitempty"`
	AudioBase64     string  `json:"audioBase64,omitempty"`
	DurationSeconds float64 `json:"duration"`
	Language        string  `json:"language"`
	TextLength      int     `json:"textLength"`
}
