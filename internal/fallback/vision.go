package fallback

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/cascade"
	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/provider"
)

// ErrInvalidImage means the image is empty or of an unsupported type.
var ErrInvalidImage = eris.New("fallback: invalid image")

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// GenerateVisionDescription describes an image through the vision cascade.
// When every provider is exhausted the result is unsuccessful and carries
// altText as its description.
func (o *Orchestrator) GenerateVisionDescription(ctx context.Context, image []byte, mimeType, altText string) (*model.VisionResult, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if len(image) == 0 {
		return nil, eris.Wrap(ErrInvalidImage, "fallback: empty image")
	}
	if !supportedImageTypes[mimeType] {
		return nil, eris.Wrapf(ErrInvalidImage, "fallback: unsupported type %q", mimeType)
	}

	prompt := "Describe this image."
	if alt := strings.TrimSpace(altText); alt != "" {
		prompt += " The author's alt text is: " + alt
	}
	req := provider.Request{
		Messages: []model.Message{
			{Role: "system", Content: o.cfg.VisionPrompt},
			{Role: "user", Content: prompt},
		},
		Images:      []model.Image{{Data: image, MimeType: mimeType}},
		Temperature: 0.2,
		MaxTokens:   o.cfg.VisionMaxTokens,
	}

	resp, attempts, err := o.gen.Generate(ctx, req, model.ModalityVision)
	if err != nil {
		if errors.Is(err, cascade.ErrNoProviders) {
			return nil, err
		}
		zap.L().Warn("fallback: vision description unavailable, using alt text",
			zap.Int("attempts", len(attempts)),
			zap.Error(err),
		)
		return &model.VisionResult{Description: strings.TrimSpace(altText)}, nil
	}
	return &model.VisionResult{
		Description: strings.TrimSpace(resp.Text),
		Provider:    resp.ProviderID,
		Success:     true,
		TokensUsed:  resp.TokensUsed,
	}, nil
}
