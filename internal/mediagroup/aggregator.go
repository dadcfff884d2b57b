package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

// File points at a Telegram upload that still has to be downloaded.
type File struct {
	FileID   string
	FileName string
	MimeType string
}

// Part is one message of an album.
type Part struct {
	ChatID       int64
	UserID       int64
	MediaGroupID string
	Caption      string
	File         File
}

// Group is a whole album, in arrival order.
type Group struct {
	ChatID  int64
	UserID  int64
	Caption string
	Files   []File
	// Overflow counts parts that arrived after MaxFiles was reached.
	Overflow int
}

type Options struct {
	Debounce time.Duration
	MaxFiles int
	OnFlush  func(Group)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	maxFiles int
	onFlush  func(Group)
	groups   map[string]*pendingGroup
}

type pendingGroup struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		maxFiles: opts.MaxFiles,
		onFlush:  opts.OnFlush,
		groups:   make(map[string]*pendingGroup),
	}
}

// Add buffers part and restarts the album's quiet timer. Parts without a
// media group or a file are ignored.
func (a *Aggregator) Add(part Part) {
	if part.MediaGroupID == "" || part.File.FileID == "" {
		return
	}

	key := makeKey(part.ChatID, part.MediaGroupID)

	a.mu.Lock()
	defer a.mu.Unlock()

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{
			group: Group{
				ChatID: part.ChatID,
				UserID: part.UserID,
			},
		}
		a.groups[key] = pg
	}
	if a.maxFiles > 0 && len(pg.group.Files) >= a.maxFiles {
		pg.group.Overflow++
	} else {
		pg.group.Files = append(pg.group.Files, part.File)
	}
	if part.Caption != "" {
		pg.group.Caption = part.Caption
	}

	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}

func makeKey(chatID int64, mediaGroupID string) string {
	return fmt.Sprintf("%d:%s", chatID, mediaGroupID)
}
