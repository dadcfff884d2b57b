package batch

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"image-magic/internal/gemini"
	"image-magic/internal/prompt"
)

var (
	ErrNoItems          = errors.New("no images to process")
	ErrBlankInstruction = prompt.ErrBlankInstruction
	ErrItemNotFound     = errors.New("item not found")
	ErrCollectionFull   = errors.New("image limit reached")
	ErrDiscarded        = errors.New("result discarded: item was removed or re-run")
	ErrRunning          = errors.New("a run is already in progress")
)

// Options configures a Session. Only Generator is required.
type Options struct {
	Generator gemini.Generator
	Logger    zerolog.Logger
	MaxItems  int
	Settings  *prompt.Settings

	// MaxConcurrent bounds the generator calls in flight for this session.
	// Zero means unbounded.
	MaxConcurrent int

	// OnSettled is called, outside the lock, each time an item reaches
	// succeeded or failed and the outcome was applied.
	OnSettled func(Item)

	NewID func() string
}

// Session owns one user's item collection and edit settings. All mutations
// replace the collection under mu; completions are folded into whatever the
// collection is at that moment.
type Session struct {
	mu           sync.Mutex
	items        Collection
	settings     prompt.Settings
	running      int
	batchActive  bool
	lastActivity time.Time

	gen       gemini.Generator
	sem       *semaphore.Weighted
	logger    zerolog.Logger
	maxItems  int
	onSettled func(Item)
	newID     func() string
}

// New returns an empty session with default or the given settings.
func New(opts Options) *Session {
	maxItems := opts.MaxItems
	if maxItems <= 0 || maxItems > MaxItems {
		maxItems = MaxItems
	}

	settings := prompt.DefaultSettings()
	if opts.Settings != nil {
		settings = opts.Settings.Normalize()
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var sem *semaphore.Weighted
	if opts.MaxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}

	return &Session{
		sem:          sem,
		settings:     settings,
		lastActivity: time.Now(),
		gen:          opts.Generator,
		logger:       opts.Logger,
		maxItems:     maxItems,
		onSettled:    opts.OnSettled,
		newID:        newID,
	}
}

// View is a consistent snapshot of the session. Running is true while a
// batch or a retry is in flight.
type View struct {
	Items       []Item
	Settings    prompt.Settings
	Running     bool
	Idle        int
	Processing  int
	Succeeded   int
	Failed      int
	BundleReady bool
}

// AddResult reports the items created by Add and how many seeds did not fit.
type AddResult struct {
	Added   []Item
	Dropped int
}

func (s *Session) update(fn func(Collection) Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = fn(s.items)
	s.lastActivity = time.Now()
}

func (s *Session) Limit() int {
	return s.maxItems
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Add appends seeds as idle items, dropping whatever exceeds the limit.
func (s *Session) Add(seeds ...Seed) AddResult {
	var res AddResult
	s.update(func(c Collection) Collection {
		next, n := c.Add(s.maxItems, s.newID, seeds...)
		res.Added = slices.Clone(next[len(next)-n:])
		res.Dropped = len(seeds) - n
		return next
	})
	if res.Dropped > 0 {
		s.logger.Info().Int("added", len(res.Added)).Int("dropped", res.Dropped).Msg("image limit reached")
	}
	return res
}

// Remove deletes the item. Work already in flight for it is not cancelled;
// its outcome is dropped when it arrives.
func (s *Session) Remove(id string) bool {
	var removed bool
	s.update(func(c Collection) Collection {
		next, ok := c.Remove(id)
		removed = ok
		return next
	})
	return removed
}

func (s *Session) Duplicate(id string) (Item, error) {
	var (
		dup Item
		err error
	)
	s.update(func(c Collection) Collection {
		if _, ok := c.Find(id); !ok {
			err = ErrItemNotFound
			return c
		}
		next, it, ok := c.Duplicate(s.maxItems, id, s.newID())
		if !ok {
			err = ErrCollectionFull
			return c
		}
		dup = it
		return next
	})
	return dup, err
}

// Reset drops every item and the instruction text. Other settings survive.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.settings.Instruction = ""
	s.lastActivity = time.Now()
}

func (s *Session) Settings() prompt.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Configure edits the settings. Runs already dispatched keep the settings
// they started with.
func (s *Session) Configure(fn func(*prompt.Settings)) prompt.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	if fn != nil {
		fn(&next)
	}
	s.settings = next.Normalize()
	s.lastActivity = time.Now()
	return s.settings
}

func (s *Session) Item(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Find(id)
}

func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Succeeded lists the items holding results, in collection order.
func (s *Session) Succeeded() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, it := range s.items {
		if it.Status == StatusSucceeded && len(it.Results) > 0 {
			out = append(out, it)
		}
	}
	return out
}

// BundleReady reports whether a combined archive is offered (two or more
// succeeded items).
func (s *Session) BundleReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Count(StatusSucceeded) >= 2
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running > 0
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	succeeded := s.items.Count(StatusSucceeded)
	return View{
		Items:       slices.Clone(s.items),
		Settings:    s.settings,
		Running:     s.running > 0,
		Idle:        s.items.Count(StatusIdle),
		Processing:  s.items.Count(StatusProcessing),
		Succeeded:   succeeded,
		Failed:      s.items.Count(StatusFailed),
		BundleReady: succeeded >= 2,
	}
}
