package refusal

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultPatterns returns the built-in English and Portuguese matchers.
// Expressions are written against normalized text (no accents, lower case).
func DefaultPatterns() []Pattern {
	return []Pattern{
		// English
		{Name: "en_cannot_help", Level: LevelHard, Weight: 0.6,
			Expr: `\b(?:i|i'm|i am) (?:cannot|can't|can not|unable to|am unable to|not able to|am not able to|won't be able to|will not be able to|won't|will not) (?:help|assist|provide|comply|fulfill|support|answer|do that|share)`},
		{Name: "en_must_decline", Level: LevelHard, Weight: 0.6,
			Expr: `\bi (?:must|have to|need to|will have to) (?:respectfully )?(?:decline|refuse)`},
		{Name: "en_policy", Level: LevelHard, Weight: 0.5,
			Expr: `\b(?:that|this|it|doing so|your request|this request) (?:would |could |may |might )?(?:violates?|goes against|go against|is against|be against) (?:my |our |the |openai's |anthropic's )?(?:content |usage |safety )?(?:polic(?:y|ies)|guidelines|terms)`},
		{Name: "en_not_permitted", Level: LevelHard, Weight: 0.4,
			Expr: `\b(?:i'm|i am) not (?:allowed|permitted|able|going to be able) to\b`},
		{Name: "en_apology", Level: LevelSoft, Weight: 0.4,
			Expr: `\b(?:i'm|i am) (?:sorry|afraid),? (?:but|that)\b`},
		{Name: "en_as_an_ai", Level: LevelSoft, Weight: 0.3,
			Expr: `\bas an ai(?: language model| assistant| model)?\b`},
		{Name: "en_harmful", Level: LevelSoft, Weight: 0.3,
			Expr: `\b(?:inappropriate|harmful|unethical|illegal|dangerous) (?:request|content|activit(?:y|ies)|information)`},
		{Name: "en_no_access", Level: LevelSoft, Weight: 0.2,
			Expr: `\bi (?:don't|do not) have (?:access to|information about|the ability to)`},

		// Portuguese
		{Name: "pt_cannot_help", Level: LevelHard, Weight: 0.6,
			Expr: `\b(?:nao posso|nao consigo|nao sou capaz de|sou incapaz de) (?:te )?(?:ajudar|auxiliar|fornecer|responder|atender|fazer isso|cumprir|compartilhar)`},
		{Name: "pt_must_decline", Level: LevelHard, Weight: 0.6,
			Expr: `\b(?:devo|preciso|tenho que) (?:educadamente )?(?:recusar|declinar)`},
		{Name: "pt_policy", Level: LevelHard, Weight: 0.5,
			Expr: `\b(?:isso|isto|este pedido|esse pedido|sua solicitacao|essa solicitacao) (?:viola|violaria|vai contra|iria contra|e contra|seria contra) (?:as |minhas |nossas |suas )?(?:politicas|diretrizes|regras)`},
		{Name: "pt_not_permitted", Level: LevelHard, Weight: 0.4,
			Expr: `\bnao (?:estou autorizad[oa]|me e permitido|tenho permissao)`},
		{Name: "pt_apology", Level: LevelSoft, Weight: 0.4,
			Expr: `\b(?:desculpe|sinto muito|lamento),? mas\b`},
		{Name: "pt_as_an_ai", Level: LevelSoft, Weight: 0.3,
			Expr: `\bcomo (?:uma? )?(?:ia|inteligencia artificial|modelo de linguagem|assistente virtual)\b`},
		{Name: "pt_harmful", Level: LevelSoft, Weight: 0.3,
			Expr: `\b(?:conteudo|pedido|solicitacao|atividade) (?:inapropriad[oa]|prejudicial|ilegal|perigos[oa])`},
	}
}

// patternFile is the on-disk shape of a pattern override file.
type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatterns reads a YAML pattern file:
//
//	patterns:
//	  - name: en_cannot_help
//	    pattern: '\bi cannot help'
//	    weight: 0.6
//	    level: hard
func LoadPatterns(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refusal: read patterns %s", path)
	}
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "refusal: parse patterns")
	}
	if len(f.Patterns) == 0 {
		return nil, eris.Errorf("refusal: %s defines no patterns", path)
	}
	return f.Patterns, nil
}
