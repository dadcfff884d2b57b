package batch

import (
	"slices"
	"time"

	"image-magic/internal/gemini"
	"image-magic/internal/prompt"
)

// MaxItems caps the number of images a session can hold.
const MaxItems = 10

// Status is the processing state of one item. Succeeded and failed items can
// re-enter processing through a retry.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Image is an encoded image with its MIME type.
type Image = gemini.Image

// Seed is an ingested file waiting to become an Item.
type Seed struct {
	ID      string
	Name    string
	Source  Image
	Preview Image
}

// RunSpec records the settings an item was last triggered with.
type RunSpec struct {
	Mode        prompt.Mode
	AspectRatio prompt.AspectRatio
	Variants    int
	StartedAt   time.Time
}

// Item is one uploaded image and its outcome. Results holds one image per
// requested variant, in request order, and is set only when Status is
// StatusSucceeded.
type Item struct {
	ID      string
	Name    string
	Source  Image
	Preview Image

	Status    Status
	Results   []Image
	Error     string
	ErrorKind gemini.Kind

	// Attempt increases every time the item enters processing; completions
	// carrying an older attempt are dropped.
	Attempt int
	Run     *RunSpec
}

// Collection is the ordered item list. Every method returns a new slice and
// leaves the receiver untouched.
type Collection []Item

func (c Collection) index(id string) int {
	return slices.IndexFunc(c, func(it Item) bool { return it.ID == id })
}

func (c Collection) Find(id string) (Item, bool) {
	if i := c.index(id); i >= 0 {
		return c[i], true
	}
	return Item{}, false
}

func (c Collection) Count(status Status) int {
	n := 0
	for _, it := range c {
		if it.Status == status {
			n++
		}
	}
	return n
}

// Add appends idle items until limit is reached and reports how many seeds fit.
func (c Collection) Add(limit int, newID func() string, seeds ...Seed) (Collection, int) {
	room := limit - len(c)
	if room <= 0 || len(seeds) == 0 {
		return c, 0
	}
	if len(seeds) > room {
		seeds = seeds[:room]
	}

	out := slices.Grow(slices.Clone(c), len(seeds))
	for _, sd := range seeds {
		id := sd.ID
		if id == "" || out.index(id) >= 0 {
			id = newID()
		}
		out = append(out, Item{
			ID:      id,
			Name:    sd.Name,
			Source:  sd.Source,
			Preview: sd.Preview,
			Status:  StatusIdle,
		})
	}
	return out, len(seeds)
}

func (c Collection) Remove(id string) (Collection, bool) {
	i := c.index(id)
	if i < 0 {
		return c, false
	}
	return slices.Delete(slices.Clone(c), i, i+1), true
}

// Duplicate copies the payload of id into a fresh idle item at the end.
func (c Collection) Duplicate(limit int, id, newID string) (Collection, Item, bool) {
	if len(c) >= limit {
		return c, Item{}, false
	}
	src, ok := c.Find(id)
	if !ok {
		return c, Item{}, false
	}
	dup := Item{
		ID:      newID,
		Name:    src.Name,
		Source:  src.Source,
		Preview: src.Preview,
		Status:  StatusIdle,
	}
	return append(slices.Clone(c), dup), dup, true
}

// start moves id into processing, clearing results and error.
func (c Collection) start(id string, spec RunSpec) (Collection, Item, bool) {
	i := c.index(id)
	if i < 0 {
		return c, Item{}, false
	}
	out := slices.Clone(c)
	it := out[i]
	it.Status = StatusProcessing
	it.Results = nil
	it.Error = ""
	it.ErrorKind = ""
	it.Attempt++
	it.Run = &spec
	out[i] = it
	return out, it, true
}

// settle folds a finished attempt into the collection. It reports false when
// the item is gone or has been re-triggered since the attempt started.
func (c Collection) settle(id string, attempt int, results []Image, err error) (Collection, Item, bool) {
	i := c.index(id)
	if i < 0 || c[i].Attempt != attempt || c[i].Status != StatusProcessing {
		return c, Item{}, false
	}
	out := slices.Clone(c)
	it := out[i]
	if err != nil {
		it.Status = StatusFailed
		it.Results = nil
		it.Error = FailureMessage(err)
		it.ErrorKind = gemini.KindOf(err)
	} else {
		it.Status = StatusSucceeded
		it.Results = results
	}
	out[i] = it
	return out, it, true
}
