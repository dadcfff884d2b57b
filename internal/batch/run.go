package batch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"image-magic/internal/gemini"
)

// Summary counts what happened to the items a run dispatched.
type Summary struct {
	Dispatched int
	Succeeded  int
	Failed     int
	// Discarded counts outcomes dropped because the item was removed or
	// re-triggered before it finished.
	Discarded int
}

type job struct {
	id       string
	attempt  int
	variants int
	req      gemini.Request
}

// Pending is a batch or retry whose items are already in processing. Exactly
// one call to Process must follow, or the session stays marked as running.
type Pending struct {
	s     *Session
	jobs  []job
	batch bool
}

// Len is the number of items the dispatch moved into processing.
func (p *Pending) Len() int {
	return len(p.jobs)
}

// Process issues every generator call and returns once all dispatched items
// have settled.
func (p *Pending) Process(ctx context.Context) Summary {
	outcomes := p.process(ctx)

	sum := Summary{Dispatched: len(p.jobs)}
	for _, o := range outcomes {
		switch {
		case !o.applied:
			sum.Discarded++
		case o.item.Status == StatusSucceeded:
			sum.Succeeded++
		default:
			sum.Failed++
		}
	}
	if p.batch {
		p.s.logger.Info().
			Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).
			Int("discarded", sum.Discarded).
			Msg("batch finished")
	}
	return sum
}

func (p *Pending) process(ctx context.Context) []outcome {
	defer p.s.finish(p.batch)

	outcomes := make([]outcome, len(p.jobs))
	var g errgroup.Group
	for i, j := range p.jobs {
		g.Go(func() error {
			outcomes[i] = p.s.execute(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// StartRun moves every item that has not succeeded yet into processing and
// reserves the session's batch slot. It fails with ErrRunning while another
// batch holds the slot. Items added afterwards are not part of the batch.
func (s *Session) StartRun() (*Pending, error) {
	jobs, err := s.dispatch(nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("items", len(jobs)).Msg("batch started")
	return &Pending{s: s, jobs: jobs, batch: true}, nil
}

// Run is StartRun followed by Process.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	p, err := s.StartRun()
	if err != nil {
		return Summary{}, err
	}
	return p.Process(ctx), nil
}

// StartRetry moves one item into processing with the current settings,
// whatever its status. It may overlap a running batch; the later trigger wins.
func (s *Session) StartRetry(id string) (*Pending, error) {
	jobs, err := s.dispatch([]string{id})
	if err != nil {
		return nil, err
	}
	return &Pending{s: s, jobs: jobs}, nil
}

// Retry is StartRetry followed by processing. It returns the settled item, or
// ErrDiscarded when the item was removed or re-triggered meanwhile.
func (s *Session) Retry(ctx context.Context, id string) (Item, error) {
	p, err := s.StartRetry(id)
	if err != nil {
		return Item{}, err
	}
	o := p.process(ctx)[0]
	if !o.applied {
		return Item{}, ErrDiscarded
	}
	return o.item, nil
}

// dispatch validates the gate and moves the selected items (all non-succeeded
// items when ids is nil) into processing in a single replacement.
func (s *Session) dispatch(ids []string) ([]job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := ids == nil
	if batch && s.batchActive {
		return nil, ErrRunning
	}
	if batch && len(s.items) == 0 {
		return nil, ErrNoItems
	}
	for _, id := range ids {
		if _, ok := s.items.Find(id); !ok {
			return nil, ErrItemNotFound
		}
	}
	if err := s.settings.Validate(); err != nil {
		return nil, err
	}

	if batch {
		for _, it := range s.items {
			if it.Status != StatusSucceeded {
				ids = append(ids, it.ID)
			}
		}
	}

	spec := RunSpec{
		Mode:        s.settings.Mode,
		AspectRatio: s.settings.AspectRatio,
		Variants:    s.settings.Variants,
		StartedAt:   time.Now(),
	}
	template := gemini.Request{
		Instruction:  s.settings.EffectiveInstruction(),
		Mode:         s.settings.Mode,
		HighQuality:  s.settings.HighQuality,
		FocusProduct: s.settings.FocusProduct,
		AspectRatio:  s.settings.AspectRatio,
	}

	next := s.items
	jobs := make([]job, 0, len(ids))
	for _, id := range ids {
		var (
			it Item
			ok bool
		)
		next, it, ok = next.start(id, spec)
		if !ok {
			return nil, ErrItemNotFound
		}
		req := template
		req.Image = it.Source.Data
		req.MimeType = it.Source.MimeType
		jobs = append(jobs, job{id: it.ID, attempt: it.Attempt, variants: spec.Variants, req: req})
	}

	s.items = next
	s.running++
	if batch {
		s.batchActive = true
	}
	s.lastActivity = time.Now()
	return jobs, nil
}

func (s *Session) finish(batch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if batch {
		s.batchActive = false
	}
	s.lastActivity = time.Now()
}

type outcome struct {
	item    Item
	applied bool
}

// execute issues the variant calls for one item in parallel. Each call owns
// its slot, so results keep request order regardless of completion order.
// The item fails if any variant fails.
func (s *Session) execute(ctx context.Context, j job) outcome {
	results := make([]Image, j.variants)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			if s.sem != nil {
				if err := s.sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer s.sem.Release(1)
			}
			req := j.req
			req.Variant = i
			img, err := s.gen.Generate(ctx, req)
			if err != nil {
				return err
			}
			results[i] = img
			return nil
		})
	}
	err := g.Wait()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = &gemini.Error{Kind: gemini.KindTransient, Message: "Request timed out.", Err: err}
	}

	s.mu.Lock()
	next, it, applied := s.items.settle(j.id, j.attempt, results, err)
	if applied {
		s.items = next
		s.lastActivity = time.Now()
	}
	s.mu.Unlock()

	if !applied {
		s.logger.Debug().Str("item", j.id).Int("attempt", j.attempt).Msg("outcome discarded")
		return outcome{}
	}

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err).Str("kind", string(it.ErrorKind))
	}
	ev.Str("item", j.id).Str("status", string(it.Status)).Int("results", len(it.Results)).Msg("item settled")

	if s.onSettled != nil {
		s.onSettled(it)
	}
	return outcome{item: it, applied: true}
}
