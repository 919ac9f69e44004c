package provider

import (
	"context"
	"errors"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/pkg/openai"
)

// OpenAI adapts any OpenAI-compatible chat completions endpoint, including
// self-hosted inference workers.
type OpenAI struct {
	base
	client openai.Client
}

// NewOpenAI creates an adapter. client may be nil, in which case one is built
// from the descriptor.
func NewOpenAI(desc model.ProviderDescriptor, client openai.Client, opts Options) *OpenAI {
	if client == nil {
		var copts []openai.Option
		if desc.BaseURL != "" {
			copts = append(copts, openai.WithBaseURL(desc.BaseURL))
		}
		if opts.HTTPClient != nil {
			copts = append(copts, openai.WithHTTPClient(opts.HTTPClient))
		}
		client = openai.NewClient(desc.APIKey, copts...)
	}
	return &OpenAI{base: base{desc: desc, retry: opts.Retry}, client: client}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	if idx := lastUserIndex(req.Messages); idx >= 0 {
		for _, img := range req.Images {
			msgs[idx].Images = append(msgs[idx].Images, openai.Image{MediaType: img.MimeType, Data: img.Data})
		}
	}

	temp := req.Temperature
	mt := maxTokens(req, 1024)
	creq := openai.ChatCompletionRequest{
		Model:       o.desc.Model,
		Messages:    msgs,
		Temperature: &temp,
		MaxTokens:   &mt,
	}

	return o.generate(ctx, func(ctx context.Context) (*Response, error) {
		resp, err := o.client.ChatCompletion(ctx, creq)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				return nil, callFailed(o.desc.ID, apiErr.StatusCode, err)
			}
			return nil, callFailed(o.desc.ID, 0, err)
		}
		return &Response{
			Text:       resp.Text(),
			TokensUsed: resp.Usage.TotalTokens,
			Model:      resp.Model,
		}, nil
	})
}
