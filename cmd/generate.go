package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genroute/internal/model"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run one generation through the cascade and fallback flow",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("generate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		gw, err := initGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		system, _ := cmd.Flags().GetString("system")
		temp, _ := cmd.Flags().GetFloat64("temperature")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		unrestricted, _ := cmd.Flags().GetBool("unrestricted")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := model.GenerationRequest{Temperature: temp, MaxTokens: maxTokens}
		if system != "" {
			req.Messages = append(req.Messages, model.Message{Role: "system", Content: system})
		}
		req.Messages = append(req.Messages, model.Message{Role: "user", Content: strings.Join(args, " ")})

		res, err := gw.Orchestrator.GenerateWithFallback(ctx, req, unrestricted)
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatResult(os.Stdout, res)
		return nil
	},
}

// formatResult prints the answer followed by a short provenance footer.
func formatResult(w io.Writer, res *model.FallbackResult) {
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "path=%s provider=%s tokens=%d", res.Path, valueOr(res.SourceProvider, "-"), res.TokensUsed)
	if res.RefusalDetected && res.RefusalConfidence != nil {
		fmt.Fprintf(w, " refusal=%.2f", *res.RefusalConfidence)
	}
	if res.DocumentsQueued > 0 {
		fmt.Fprintf(w, " queued=%d", res.DocumentsQueued)
	}
	if res.FallbackFailed {
		fmt.Fprintf(w, " fallback_error=%q", res.FallbackError)
	}
	fmt.Fprintln(w)
	for i, s := range res.Sources {
		fmt.Fprintf(w, "  [%d] %s %s\n", i+1, s.Title, s.URL)
	}
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var visionCmd = &cobra.Command{
	Use:   "vision <image-file>",
	Short: "Describe an image through the vision cascade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("generate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "vision: read image")
		}
		mimeType, _ := cmd.Flags().GetString("mime-type")
		if mimeType == "" {
			mimeType = mimeFromExt(args[0])
		}
		alt, _ := cmd.Flags().GetString("alt")

		gw, err := initGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		res, err := gw.Orchestrator.GenerateVisionDescription(ctx, data, mimeType, alt)
		if err != nil {
			return eris.Wrap(err, "vision")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

func init() {
	generateCmd.Flags().String("system", "", "system prompt")
	generateCmd.Flags().Float64("temperature", 0.7, "sampling temperature")
	generateCmd.Flags().Int("max-tokens", 1024, "maximum tokens to generate")
	generateCmd.Flags().Bool("unrestricted", false, "escalate refusals through web search")
	generateCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(generateCmd)

	visionCmd.Flags().String("mime-type", "", "image MIME type (default from extension)")
	visionCmd.Flags().String("alt", "", "author alt text, used when no provider is available")
	rootCmd.AddCommand(visionCmd)
}
