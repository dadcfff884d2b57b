package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"image-magic/internal/batch"
	"image-magic/internal/export"
	"image-magic/internal/prompt"
	"image-magic/internal/telegram"
)

const helpText = "🪄 Image Magic\n\n" +
	"Send up to 10 product photos (single photos, albums, or image files), " +
	"describe the edit in a text message, then press Run.\n\n" +
	"Commands:\n" +
	"/settings - Edit mode, quality, aspect ratio, variants\n" +
	"/run - Process every image that has not succeeded yet\n" +
	"/items - List images and their status\n" +
	"/zip - Download all results as one archive\n" +
	"/prompt - Show the prompt that will be sent\n" +
	"/reset - Remove all images and the instruction\n\n" +
	"Shortcuts: /settings banner theme=summer style=pastel 9:16 x2 hq"

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		if err := h.tg.SendText(chatID, helpText); err != nil {
			return err
		}
		if msg.Command() == "start" {
			return h.renderWizard(chatID, userID, 0, false)
		}
		return nil
	case "settings":
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			sess := h.session(chatID, userID)
			sess.Configure(func(st *prompt.Settings) {
				*st = prompt.ParseArgs(args, *st)
			})
		}
		h.ui.Update(chatID, userID, func(st *uiState) { st.Menu = menuMain })
		return h.renderWizard(chatID, userID, 0, false)
	case "run":
		return h.runBatch(chatID, userID)
	case "items":
		return h.sendItems(chatID, userID)
	case "zip":
		return h.sendBundle(chatID, userID)
	case "prompt":
		return h.sendPrompt(chatID, userID)
	case "reset":
		h.session(chatID, userID).Reset()
		_ = h.tg.SendText(chatID, "🧹 Images and instruction cleared.")
		return h.renderWizard(chatID, userID, 0, false)
	default:
		return h.tg.SendText(chatID, "❓ Unknown command. Use /help.")
	}
}

func (h *Handler) runBatch(chatID, userID int64) error {
	sess := h.session(chatID, userID)
	p, err := sess.StartRun()
	if err != nil {
		return h.tg.SendText(chatID, gateMessage(err))
	}
	if p.Len() == 0 {
		p.Process(h.baseCtx)
		return h.tg.SendText(chatID, "✅ Every image has already been processed. Use Retry on an image to process it again.")
	}

	h.tg.SendTyping(chatID)
	_ = h.tg.SendText(chatID, fmt.Sprintf("🎨 Processing %d image(s) × %d variant(s)...", p.Len(), sess.Settings().Variants))

	h.detach(func(ctx context.Context) {
		sum := p.Process(ctx)
		text := fmt.Sprintf("🏁 Done: %d succeeded, %d failed.", sum.Succeeded, sum.Failed)
		if sum.Discarded > 0 {
			text += fmt.Sprintf(" %d result(s) were dropped because the image was removed or re-run.", sum.Discarded)
		}
		_ = h.tg.SendText(chatID, text)
		if err := h.renderWizard(chatID, userID, 0, false); err != nil {
			h.logger.Warn().Err(err).Int64("chat", chatID).Msg("render wizard failed")
		}
	})
	return nil
}

func (h *Handler) retryItem(chatID, userID int64, itemID string) error {
	p, err := h.session(chatID, userID).StartRetry(itemID)
	switch {
	case errors.Is(err, batch.ErrItemNotFound):
		return h.tg.SendText(chatID, "This image was removed.")
	case err != nil:
		return h.tg.SendText(chatID, gateMessage(err))
	}
	h.detach(func(ctx context.Context) {
		p.Process(ctx)
	})
	return nil
}

func gateMessage(err error) string {
	switch {
	case errors.Is(err, batch.ErrNoItems):
		return "📷 Send product photos first."
	case errors.Is(err, batch.ErrBlankInstruction):
		return "✏️ Describe the edit first: send the instruction as a text message, or switch to Banner mode."
	case errors.Is(err, batch.ErrRunning):
		return "⏳ A run is already in progress."
	default:
		return "❌ " + err.Error()
	}
}

func (h *Handler) sendItems(chatID, userID int64) error {
	view := h.session(chatID, userID).View()
	if len(view.Items) == 0 {
		return h.tg.SendText(chatID, "No images yet. Send product photos to start.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗂 Images %d/%d\n\n", len(view.Items), batch.MaxItems)
	for i, it := range view.Items {
		fmt.Fprintf(&b, "%d. %s %s", i+1, statusIcon(it.Status), itemLabel(it))
		switch it.Status {
		case batch.StatusSucceeded:
			fmt.Fprintf(&b, " (%d result(s))", len(it.Results))
		case batch.StatusFailed:
			fmt.Fprintf(&b, " (%s)", it.Error)
		}
		b.WriteString("\n")
	}

	_, err := h.tg.SendTextWithKeyboard(chatID, strings.TrimSpace(b.String()), itemsKeyboard(userID, view.Items))
	return err
}

func (h *Handler) sendPrompt(chatID, userID int64) error {
	st := h.session(chatID, userID).Settings()
	composed := prompt.Compose(st.EffectiveInstruction(), st.Mode, st.HighQuality, st.FocusProduct)
	text := fmt.Sprintf("Model: %s\n\n%s", prompt.ModelFor(st.HighQuality), composed)
	if err := st.Validate(); err != nil {
		text += "\n\n⚠️ " + gateMessage(err)
	}
	return h.tg.SendText(chatID, text)
}

func (h *Handler) sendBundle(chatID, userID int64) error {
	items := h.session(chatID, userID).Items()

	var buf bytes.Buffer
	now := h.now()
	err := export.WriteBundle(&buf, items, export.BundleOptions{Method: h.archiveMethod, At: now})
	if errors.Is(err, export.ErrNotReady) {
		return h.tg.SendText(chatID, "📦 The archive needs at least two processed images.")
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("chat", chatID).Msg("archive failed")
		return h.tg.SendText(chatID, "❌ Could not create the archive.")
	}

	return h.tg.SendDocument(chatID, telegram.Document{
		Name: export.BundleName(now),
		Data: buf.Bytes(),
	})
}

func statusIcon(s batch.Status) string {
	switch s {
	case batch.StatusProcessing:
		return "⏳"
	case batch.StatusSucceeded:
		return "✅"
	case batch.StatusFailed:
		return "❌"
	default:
		return "▫️"
	}
}

func itemLabel(it batch.Item) string {
	if strings.TrimSpace(it.Name) != "" {
		return truncateLine(it.Name, 40)
	}
	return "photo"
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
