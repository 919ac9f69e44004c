package notion

import (
	"strings"
	"unicode/utf8"

	"github.com/jomei/notionapi"
)

// Notion rejects rich text items longer than this many characters and pages
// created with more than maxChildren blocks.
const (
	maxRichText = 2000
	maxChildren = 100
)

// CurationPage is a document awaiting human review.
type CurationPage struct {
	Title     string
	Body      string
	Tags      []string
	SourceURL string
	Source    string
	Status    string
}

// BuildCurationPage converts p into a create request under the given database.
// The body is split into paragraph blocks that respect Notion's size limits.
func BuildCurationPage(dbID string, p CurationPage) *notionapi.PageCreateRequest {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(truncate(p.Title, maxRichText)),
		},
	}
	if p.Status != "" {
		props["Status"] = notionapi.StatusProperty{
			Status: notionapi.Status{Name: p.Status},
		}
	}
	if len(p.Tags) > 0 {
		opts := make([]notionapi.Option, 0, len(p.Tags))
		for _, t := range p.Tags {
			// Multi-select option names cannot contain commas.
			if t = strings.TrimSpace(strings.ReplaceAll(t, ",", " ")); t != "" {
				opts = append(opts, notionapi.Option{Name: t})
			}
		}
		props["Tags"] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}
	if p.Source != "" {
		props["Source"] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(p.Source),
		}
	}
	if p.SourceURL != "" {
		props["URL"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  p.SourceURL,
		}
	}

	var children []notionapi.Block
	for _, chunk := range chunkText(p.Body, maxRichText) {
		if len(children) == maxChildren {
			break
		}
		children = append(children, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: richText(chunk)},
		})
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   children,
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// chunkText splits s into pieces of at most n runes, preferring to break on
// paragraph boundaries.
func chunkText(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for utf8.RuneCountInString(para) > n {
			flush()
			r := []rune(para)
			out = append(out, string(r[:n]))
			para = string(r[n:])
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+utf8.RuneCountInString(para) > n {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
