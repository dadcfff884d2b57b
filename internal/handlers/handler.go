package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"image-magic/internal/batch"
	"image-magic/internal/export"
	"image-magic/internal/gemini"
	"image-magic/internal/mediagroup"
	"image-magic/internal/prompt"
	"image-magic/internal/session"
	"image-magic/internal/telegram"
)

// Messenger is the part of the Telegram client the handlers use.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhoto(chatID int64, p telegram.Photo) (int, error)
	SendDocument(chatID int64, d telegram.Document) error
	DownloadFile(ctx context.Context, fileID string) (telegram.File, error)
}

type Options struct {
	Telegram  Messenger
	Generator gemini.Generator
	Logger    zerolog.Logger
	// GenerationConcurrency bounds generator calls per session; zero is
	// unbounded.
	GenerationConcurrency int
	SessionIdle           time.Duration
	ArchiveMethod         export.Method
	// BaseContext parents runs and retries, which outlive the update that
	// started them. RunTimeout bounds each of them.
	BaseContext context.Context
	RunTimeout  time.Duration
}

type Handler struct {
	tg            Messenger
	gen           gemini.Generator
	sessions      *session.Store
	ui            *stateStore
	logger        zerolog.Logger
	aggregator    *mediagroup.Aggregator
	genLimit      int
	archiveMethod export.Method
	now           func() time.Time

	baseCtx    context.Context
	runTimeout time.Duration
	runs       sync.WaitGroup
}

func New(opts Options) *Handler {
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 180 * time.Second
	}

	h := &Handler{
		tg:            opts.Telegram,
		gen:           opts.Generator,
		ui:            newStateStore(),
		logger:        opts.Logger,
		genLimit:      opts.GenerationConcurrency,
		archiveMethod: opts.ArchiveMethod,
		now:           time.Now,
		baseCtx:       baseCtx,
		runTimeout:    runTimeout,
	}
	h.sessions = session.NewStore(session.Options{
		IdleTTL:    opts.SessionIdle,
		NewSession: h.newSession,
		Logger:     opts.Logger,
	})
	return h
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

// Wait blocks until every detached run and retry has returned.
func (h *Handler) Wait() {
	h.runs.Wait()
}

// detach runs fn outside the update that triggered it, so the update slot is
// free for callbacks while generation is in flight.
func (h *Handler) detach(fn func(ctx context.Context)) {
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		ctx, cancel := context.WithTimeout(h.baseCtx, h.runTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Sessions exposes the store so the caller can run its janitor.
func (h *Handler) Sessions() *session.Store {
	return h.sessions
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func (h *Handler) newSession(key string) *batch.Session {
	var chatID, userID int64
	if _, err := fmt.Sscanf(key, "%d:%d", &chatID, &userID); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("bad session key")
	}
	return batch.New(batch.Options{
		Generator:     h.gen,
		Logger:        h.logger.With().Str("session", key).Logger(),
		MaxConcurrent: h.genLimit,
		OnSettled: func(it batch.Item) {
			h.deliverItem(chatID, userID, it)
		},
	})
}

func (h *Handler) session(chatID, userID int64) *batch.Session {
	return h.sessions.Get(sessionKey(chatID, userID))
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch {
	case msg.IsCommand():
		return h.handleCommand(ctx, chatID, userID, msg)
	case len(msg.Photo) > 0 || msg.Document != nil:
		return h.handleUpload(ctx, chatID, userID, msg)
	case msg.Text != "":
		return h.handleText(chatID, userID, msg.Text)
	}
	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.ingestFiles(ctx, group.ChatID, group.UserID, group.Caption, group.Files, group.Overflow); err != nil {
		h.logger.Error().Err(err).Int64("chat", group.ChatID).Msg("media group processing failed")
	}
}

func (h *Handler) handleText(chatID, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	h.setInstruction(chatID, userID, text)
	_ = h.tg.SendText(chatID, "✏️ Instruction saved.")
	return h.renderWizard(chatID, userID, 0, false)
}

func (h *Handler) setInstruction(chatID, userID int64, text string) {
	h.session(chatID, userID).Configure(func(st *prompt.Settings) {
		st.Instruction = text
	})
}
