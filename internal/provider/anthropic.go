package provider

import (
	"context"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/pkg/anthropic"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// Anthropic adapts the Anthropic Messages API.
type Anthropic struct {
	base
	client anthropic.Client
}

// NewAnthropic creates an adapter. client may be nil, in which case one is
// built from the descriptor's key and base URL.
func NewAnthropic(desc model.ProviderDescriptor, client anthropic.Client, opts Options) *Anthropic {
	if desc.Model == "" {
		desc.Model = defaultAnthropicModel
	}
	if client == nil {
		var copts []anthropic.ClientOption
		if desc.BaseURL != "" {
			copts = append(copts, anthropic.WithBaseURL(desc.BaseURL))
		}
		client = anthropic.NewClient(desc.APIKey, copts...)
	}
	return &Anthropic{base: base{desc: desc, retry: opts.Retry}, client: client}
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	system, turns := splitSystem(req.Messages)
	msgs := make([]anthropic.Message, len(turns))
	for i, m := range turns {
		msgs[i] = anthropic.Message{Role: m.Role, Content: m.Content}
	}
	if idx := lastUserIndex(turns); idx >= 0 {
		for _, img := range req.Images {
			msgs[idx].Images = append(msgs[idx].Images, anthropic.Image{MediaType: img.MimeType, Data: img.Data})
		}
	}

	temp := req.Temperature
	mreq := anthropic.MessageRequest{
		Model:       a.desc.Model,
		MaxTokens:   int64(maxTokens(req, 1024)),
		System:      system,
		Messages:    msgs,
		Temperature: &temp,
	}

	return a.generate(ctx, func(ctx context.Context) (*Response, error) {
		resp, err := a.client.CreateMessage(ctx, mreq)
		if err != nil {
			return nil, callFailed(a.desc.ID, anthropic.StatusCode(err), err)
		}
		return &Response{
			Text:       resp.Text(),
			TokensUsed: int(resp.Usage.Total()),
			Model:      resp.Model,
		}, nil
	})
}
