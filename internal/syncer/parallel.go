package syncer

import (
	"context"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"mailtally/internal/model"
)

type fetched struct {
	meta model.MessageMetadata
	err  error
}

// processParallel fetches metadata for the page's unseen entries with up to
// Workers concurrent calls, then commits from this goroutine in listing
// order. On the first fetch failure, entries before it are still committed.
func (s *Service) processParallel(ctx context.Context, r *run, logger *log.Logger, entries []model.ListingEntry) error {
	var pending []model.ListingEntry
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		has, err := s.seen(ctx, r, e.ID)
		if err != nil {
			return err
		}
		if !has {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]fetched, len(pending))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.cfg.Workers)
	for i, e := range pending {
		g.Go(func() error {
			meta, err := s.fetch(gctx, r, logger, e.ID)
			results[i] = fetched{meta: meta, err: err}
			return err
		})
	}
	waitErr := g.Wait()

	for i, e := range pending {
		res := results[i]
		if res.err != nil {
			// An entry may fail only because the group was canceled; report
			// the failure that stopped it.
			if waitErr != nil {
				return waitErr
			}
			return res.err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.commit(ctx, r, e.ID, res.meta.Sender); err != nil {
			return err
		}
	}
	return waitErr
}
