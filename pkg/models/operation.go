package models

import "fmt"

// Operation identifies one logical AI generation kind.
type Operation string

const (
	OpTranscription Operation = "transcription"
	OpCoverImage    Operation = "cover_image"
	OpTranslation   Operation = "translation"
	OpSpeech        Operation = "speech"
)

// Operations lists every supported operation kind.
var Operations = []Operation{OpTranscription, OpCoverImage, OpTranslation, OpSpeech}

// ParseOperation validates and returns an operation kind.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// SupportedLanguages are the language codes accepted by the speech and
// translation operations.
var SupportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "pl", "tr",
	"ru", "nl", "cs", "ar", "zh-cn", "ja", "hu", "ko", "hi",
}

// LanguageSupported reports whether code is in the supported set.
func LanguageSupported(code string) bool {
	for _, l := range SupportedLanguages {
		if l == code {
			return true
		}
	}
	return false
}
