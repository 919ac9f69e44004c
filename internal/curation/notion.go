package curation

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/pkg/notion"
)

// NotionHandoff creates one page per item in a Notion database.
type NotionHandoff struct {
	client notion.Client
	dbID   string
}

// NewNotionHandoff creates a NotionHandoff for the given database.
func NewNotionHandoff(client notion.Client, dbID string) *NotionHandoff {
	return &NotionHandoff{client: client, dbID: dbID}
}

// Name implements Handoff.
func (n *NotionHandoff) Name() string { return "notion" }

// Enqueue creates a Pending page for item.
func (n *NotionHandoff) Enqueue(ctx context.Context, item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = item.SourceMarker
	}

	req := notion.BuildCurationPage(n.dbID, notion.CurationPage{
		Title:     title,
		Body:      item.Content,
		Tags:      item.Tags,
		SourceURL: item.URL,
		Source:    item.SourceMarker,
		Status:    StatusPending,
	})
	page, err := n.client.CreatePage(ctx, req)
	if err != nil {
		return eris.Wrapf(err, "curation: create notion page %q", title)
	}
	if page != nil {
		zap.L().Debug("curation: notion page created",
			zap.String("page_id", string(page.ID)),
			zap.String("title", title),
		)
	}
	return nil
}

// PendingItem summarizes a page still awaiting review.
type PendingItem struct {
	PageID    string    `json:"page_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Pending lists the pages still in the Pending status.
func (n *NotionHandoff) Pending(ctx context.Context) ([]PendingItem, error) {
	pages, err := notion.QueryByStatus(ctx, n.client, n.dbID, StatusPending)
	if err != nil {
		return nil, eris.Wrap(err, "curation: list pending")
	}
	out := make([]PendingItem, 0, len(pages))
	for _, p := range pages {
		item := PendingItem{PageID: string(p.ID), URL: p.URL, CreatedAt: p.CreatedTime}
		if prop, ok := p.Properties["Name"]; ok {
			if tp, ok := prop.(*notionapi.TitleProperty); ok && len(tp.Title) > 0 {
				item.Title = tp.Title[0].PlainText
			}
		}
		out = append(out, item)
	}
	return out, nil
}
