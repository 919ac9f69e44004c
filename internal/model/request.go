package model

import "strings"

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// GenerationRequest is the caller-facing generation request.
type GenerationRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// LastUserMessage returns the content of the most recent user turn.
func (r GenerationRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// Image is an inline image attached to a vision request.
type Image struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// VisionResult is the outcome of an image-description request.
type VisionResult struct {
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Success     bool   `json:"success"`
	TokensUsed  int    `json:"tokens_used"`
}
