package comments

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// BatchResult holds the results of a batch draft.
type BatchResult struct {
	Drafted []store.Comment
	Failed  []error
}

// DraftBatch drafts posts in groups of MaxConcurrent. Drafts in a group run
// concurrently and groups run one after another. A failed draft is recorded
// and does not stop the others. Drafted is in completion order within a group.
func (c *Controller) DraftBatch(ctx context.Context, posts []store.Post) *BatchResult {
	r := &BatchResult{}
	size := c.opts.MaxConcurrent

	for start := 0; start < len(posts); start += size {
		if err := ctx.Err(); err != nil {
			log.Warnf("Batch draft stopped with %d posts left: %v", len(posts)-start, err)
			r.Failed = append(r.Failed, err)
			break
		}

		group := posts[start:min(start+size, len(posts))]
		log.Infof("Drafting comments for %d posts...", len(group))

		var (
			g  errgroup.Group
			mu sync.Mutex
		)
		for _, post := range group {
			g.Go(func() error {
				comment, err := c.Draft(ctx, post)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.WithField("post", post.ID).Warnf("Draft failed: %v", err)
					r.Failed = append(r.Failed, err)
					return nil
				}
				r.Drafted = append(r.Drafted, *comment)
				log.WithField("post", post.ID).Infof("Drafted comment #%d", len(r.Drafted))
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Infof("Batch draft complete: %d drafted, %d failed", len(r.Drafted), len(r.Failed))
	return r
}
