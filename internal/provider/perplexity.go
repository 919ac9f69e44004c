package provider

import (
	"context"
	"errors"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/pkg/perplexity"
)

// Perplexity adapts the Perplexity chat API. It has no vision support.
type Perplexity struct {
	base
	client perplexity.Client
}

// NewPerplexity creates an adapter. client may be nil, in which case one is
// built from the descriptor.
func NewPerplexity(desc model.ProviderDescriptor, client perplexity.Client, opts Options) *Perplexity {
	if client == nil {
		var copts []perplexity.Option
		if desc.BaseURL != "" {
			copts = append(copts, perplexity.WithBaseURL(desc.BaseURL))
		}
		if desc.Model != "" {
			copts = append(copts, perplexity.WithModel(desc.Model))
		}
		if opts.HTTPClient != nil {
			copts = append(copts, perplexity.WithHTTPClient(opts.HTTPClient))
		}
		client = perplexity.NewClient(desc.APIKey, copts...)
	}
	return &Perplexity{base: base{desc: desc, retry: opts.Retry}, client: client}
}

func (p *Perplexity) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(req.Images) > 0 {
		return nil, callFailed(p.desc.ID, 0, errors.New("images not supported"))
	}

	msgs := make([]perplexity.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = perplexity.Message{Role: m.Role, Content: m.Content}
	}
	temp := req.Temperature
	mt := maxTokens(req, 1024)
	creq := perplexity.ChatCompletionRequest{
		Messages:    msgs,
		Temperature: &temp,
		MaxTokens:   &mt,
	}

	return p.generate(ctx, func(ctx context.Context) (*Response, error) {
		resp, err := p.client.ChatCompletion(ctx, creq)
		if err != nil {
			var apiErr *perplexity.APIError
			if errors.As(err, &apiErr) {
				return nil, callFailed(p.desc.ID, apiErr.StatusCode, err)
			}
			return nil, callFailed(p.desc.ID, 0, err)
		}
		tokens := resp.Usage.TotalTokens
		if tokens == 0 {
			tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		}
		return &Response{Text: resp.Text(), TokensUsed: tokens}, nil
	})
}
