package fallback

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/genroute/internal/curation"
	"github.com/sells-group/genroute/internal/search"
)

// queue forwards the top results to curation concurrently and returns how
// many were accepted. A failed item never affects the others.
func (o *Orchestrator) queue(ctx context.Context, requestID string, results []search.Result) int {
	n := min(o.cfg.CurateTop, len(results))
	if n == 0 {
		return 0
	}

	var accepted atomic.Int32
	var g errgroup.Group
	for _, r := range results[:n] {
		item := curation.Item{
			Title:        displayTitle(r),
			Content:      r.Snippet,
			Tags:         o.cfg.CurationTags,
			SourceMarker: "web_search:" + requestID,
			URL:          r.URL,
		}
		g.Go(func() error {
			if err := o.handoff.Enqueue(ctx, item); err != nil {
				zap.L().Warn("fallback: curation enqueue failed",
					zap.String("request_id", requestID),
					zap.String("target", o.handoff.Name()),
					zap.String("url", item.URL),
					zap.Error(err),
				)
				return nil
			}
			accepted.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(accepted.Load())
}
