package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"mailtally/internal/model"
	"mailtally/internal/rate"
)

// Store is the durable state the orchestrator needs: dedup membership, the
// atomic seen+count commit, and run bookkeeping.
type Store interface {
	Has(ctx context.Context, id string) (bool, error)
	Commit(ctx context.Context, id, sender string) (bool, error)
	StartRun(ctx context.Context, run model.RunSummary) error
	FinishRun(ctx context.Context, run model.RunSummary) error
}

// Credentials is the part of the credential manager the orchestrator drives.
type Credentials interface {
	Acquire(ctx context.Context) (model.Credential, error)
	Invalidate()
}

// Publisher receives the summary of every finished run.
type Publisher interface {
	PublishRun(ctx context.Context, run model.RunSummary) error
}

// Phases reported through Progress.
const (
	PhaseAuth   = "auth"
	PhaseList   = "list"
	PhaseItem   = "item"
	PhaseFinish = "done"
)

// Progress is reported after each page and each processed item.
type Progress struct {
	Phase   string
	Page    int
	Listed  int
	New     int
	Skipped int
	Total   int64 // provider estimate, 0 if unknown
}

// Config holds the retry policy and worker count.
type Config struct {
	Provider   string
	MaxRetries int
	Backoff    rate.Backoff
	Workers    int
}

// Deps wires the collaborators. Publisher, Logger, Now, Sleep and NewRunID
// are optional.
type Deps struct {
	Client    model.MailClient
	Store     Store
	Creds     Credentials
	Publisher Publisher
	Logger    *log.Logger
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	NewRunID  func() string
}

// Service runs sync passes over one mailbox.
type Service struct {
	client    model.MailClient
	store     Store
	creds     Credentials
	publisher Publisher
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	newRunID  func() string
}

func New(cfg Config, deps Deps) *Service {
	s := &Service{
		client:    deps.Client,
		store:     deps.Store,
		creds:     deps.Creds,
		publisher: deps.Publisher,
		cfg:       cfg,
		logger:    deps.Logger,
		now:       deps.Now,
		sleep:     deps.Sleep,
		newRunID:  deps.NewRunID,
	}
	if s.cfg.Workers < 1 {
		s.cfg.Workers = 1
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = rate.Sleep
	}
	if s.newRunID == nil {
		s.newRunID = uuid.NewString
	}
	return s
}

// run carries the mutable state of one pass.
type run struct {
	summary  model.RunSummary
	progress func(Progress)
	estimate int64

	errMu sync.Mutex // guards summary.Errors while metadata workers run
}

func (r *run) failed() {
	r.errMu.Lock()
	r.summary.Errors++
	r.errMu.Unlock()
}

func (r *run) report(phase string) {
	if r.progress == nil {
		return
	}
	r.progress(Progress{
		Phase:   phase,
		Page:    r.summary.Pages,
		Listed:  r.summary.Listed,
		New:     r.summary.New,
		Skipped: r.summary.Skipped,
		Total:   r.estimate,
	})
}

// Run performs one pass: acquire a credential, page through the listing,
// and commit every item not yet seen. It returns the summary and, for runs
// that did not finish, a *RunError.
func (s *Service) Run(ctx context.Context, progress func(Progress)) (model.RunSummary, error) {
	r := &run{
		progress: progress,
		summary: model.RunSummary{
			RunID:     s.newRunID(),
			Provider:  s.cfg.Provider,
			Status:    model.StatusRunning,
			StartedAt: s.now(),
		},
	}
	logger := s.logger.With("run", r.summary.RunID)

	bookkeeping := context.WithoutCancel(ctx)
	if err := s.store.StartRun(bookkeeping, r.summary); err != nil {
		r.summary.Status = model.StatusFailed
		r.summary.FinishedAt = s.now()
		r.summary.LastError = err.Error()
		return r.summary, &RunError{Summary: r.summary, Err: err}
	}

	err := s.pass(ctx, r, logger)
	r.summary.FinishedAt = s.now()
	switch {
	case err == nil:
		r.summary.Status = model.StatusDone
	case errors.Is(err, model.ErrTransientAPI), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.summary.Status = model.StatusIncomplete
		err = fmt.Errorf("%w: %w", model.ErrSyncIncomplete, err)
	default:
		r.summary.Status = model.StatusFailed
	}
	if err != nil {
		r.summary.LastError = err.Error()
	}
	r.report(PhaseFinish)

	if ferr := s.store.FinishRun(bookkeeping, r.summary); ferr != nil {
		logger.Error("failed to record run", "err", ferr)
	}
	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(bookkeeping, 5*time.Second)
		if perr := s.publisher.PublishRun(pubCtx, r.summary); perr != nil {
			logger.Warn("failed to publish run summary", "err", perr)
		}
		cancel()
	}

	logger.Info("sync finished",
		"status", r.summary.Status,
		"pages", r.summary.Pages,
		"listed", r.summary.Listed,
		"new", r.summary.New,
		"skipped", r.summary.Skipped,
		"errors", r.summary.Errors,
	)
	if err != nil {
		return r.summary, &RunError{Summary: r.summary, Err: err}
	}
	return r.summary, nil
}

func (s *Service) pass(ctx context.Context, r *run, logger *log.Logger) error {
	r.report(PhaseAuth)
	if err := s.acquire(ctx, r, logger); err != nil {
		return err
	}

	cursor := ""
	visited := map[string]bool{}
	for {
		visited[cursor] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		var page model.Page
		err := s.call(ctx, r, logger, "list", func(callCtx context.Context) error {
			var err error
			page, err = s.client.ListPage(callCtx, cursor)
			return err
		})
		if err != nil {
			return err
		}
		r.summary.Pages++
		r.summary.Listed += len(page.Entries)
		if page.Estimate > 0 {
			r.estimate = page.Estimate
		}
		r.report(PhaseList)
		logger.Debug("page listed", "page", r.summary.Pages, "entries", len(page.Entries))

		if s.cfg.Workers > 1 {
			err = s.processParallel(ctx, r, logger, page.Entries)
		} else {
			err = s.processSequential(ctx, r, logger, page.Entries)
		}
		if err != nil {
			return err
		}

		if page.NextCursor == "" {
			return nil
		}
		if visited[page.NextCursor] {
			return &model.APIError{Kind: model.KindFatal, Op: "list", Err: fmt.Errorf("cursor %q was already listed in this run", page.NextCursor)}
		}
		cursor = page.NextCursor
	}
}

// acquire obtains the initial credential. Transient failures (a refresh that
// could not reach the server) follow the retry policy.
func (s *Service) acquire(ctx context.Context, r *run, logger *log.Logger) error {
	for attempt := 0; ; attempt++ {
		_, err := s.creds.Acquire(ctx)
		if err == nil {
			return nil
		}
		r.failed()
		if !errors.Is(err, model.ErrTransientAPI) || attempt >= s.cfg.MaxRetries {
			return err
		}
		d := s.cfg.Backoff.Delay(attempt + 1)
		logger.Warn("credential refresh failed, retrying", "attempt", attempt+1, "wait", d, "err", err)
		if err := s.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// call runs one API operation with the retry policy. Item work runs on a
// context detached from cancellation; backoff waits honor ctx.
func (s *Service) call(ctx context.Context, r *run, logger *log.Logger, op string, fn func(context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	reauthed := false
	retries := 0
	for {
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		r.failed()

		switch {
		case errors.Is(err, model.ErrAuthFailure) && !reauthed:
			reauthed = true
			logger.Warn("api rejected credential, re-acquiring", "op", op, "err", err)
			s.creds.Invalidate()
			if _, aerr := s.creds.Acquire(ctx); aerr != nil {
				return aerr
			}
		case errors.Is(err, model.ErrTransientAPI) && retries < s.cfg.MaxRetries:
			retries++
			d := s.cfg.Backoff.Delay(retries)
			logger.Warn("transient api error, retrying", "op", op, "attempt", retries, "wait", d, "err", err)
			if serr := s.sleep(ctx, d); serr != nil {
				return serr
			}
		default:
			return err
		}
	}
}

func (s *Service) fetch(ctx context.Context, r *run, logger *log.Logger, id string) (model.MessageMetadata, error) {
	var meta model.MessageMetadata
	err := s.call(ctx, r, logger, "get", func(callCtx context.Context) error {
		var err error
		meta, err = s.client.GetMetadata(callCtx, id)
		return err
	})
	if err != nil {
		return meta, err
	}
	if meta.Sender == "" {
		meta.Sender = model.UnknownSender
	}
	return meta, nil
}

func (s *Service) commit(ctx context.Context, r *run, id, sender string) error {
	isNew, err := s.store.Commit(context.WithoutCancel(ctx), id, sender)
	if err != nil {
		return err
	}
	if isNew {
		r.summary.New++
	} else {
		r.summary.Skipped++
	}
	r.report(PhaseItem)
	return nil
}

func (s *Service) seen(ctx context.Context, r *run, id string) (bool, error) {
	has, err := s.store.Has(context.WithoutCancel(ctx), id)
	if err != nil {
		return false, err
	}
	if has {
		r.summary.Skipped++
		r.report(PhaseItem)
	}
	return has, nil
}

func (s *Service) processSequential(ctx context.Context, r *run, logger *log.Logger, entries []model.ListingEntry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		has, err := s.seen(ctx, r, e.ID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		meta, err := s.fetch(ctx, r, logger, e.ID)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, r, e.ID, meta.Sender); err != nil {
			return err
		}
	}
	return nil
}
