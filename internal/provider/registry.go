package provider

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
)

// Options are shared by every adapter built from configuration.
type Options struct {
	Retry      resilience.RetryConfig
	HTTPClient *http.Client
}

// Build constructs a client for each descriptor, in the given order.
func Build(descs []model.ProviderDescriptor, opts Options) ([]Client, error) {
	seen := make(map[string]struct{}, len(descs))
	out := make([]Client, 0, len(descs))
	for _, d := range descs {
		if d.ID == "" {
			return nil, eris.New("provider: descriptor missing id")
		}
		if _, dup := seen[d.ID]; dup {
			return nil, eris.Errorf("provider: duplicate id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		if d.Modality == "" {
			d.Modality = model.ModalityText
		}
		if !d.Modality.Valid() {
			return nil, eris.Errorf("provider %s: unknown modality %q", d.ID, d.Modality)
		}

		switch d.Kind {
		case model.ProviderKindAnthropic:
			out = append(out, NewAnthropic(d, nil, opts))
		case model.ProviderKindOpenAI:
			out = append(out, NewOpenAI(d, nil, opts))
		case model.ProviderKindPerplexity:
			if d.Modality == model.ModalityVision {
				return nil, eris.Errorf("provider %s: perplexity does not support vision", d.ID)
			}
			out = append(out, NewPerplexity(d, nil, opts))
		default:
			return nil, eris.Errorf("provider %s: unknown kind %q", d.ID, d.Kind)
		}
	}
	return out, nil
}

// Descriptors returns the descriptors of clients, preserving order.
func Descriptors(clients []Client) []model.ProviderDescriptor {
	out := make([]model.ProviderDescriptor, len(clients))
	for i, c := range clients {
		out[i] = c.Descriptor()
	}
	return out
}
