package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"image-magic/internal/batch"
	"image-magic/internal/export"
	"image-magic/internal/telegram"
)

const (
	actionRetry     = "r"
	actionDuplicate = "d"
	actionRemove    = "x"
	actionGet       = "g"
)

func isItemAction(action string) bool {
	switch action {
	case actionRetry, actionDuplicate, actionRemove, actionGet:
		return true
	}
	return false
}

// deliverItem reports a settled item to its chat: one photo per result, or
// the mapped error message, with the item's buttons attached.
func (h *Handler) deliverItem(chatID, userID int64, it batch.Item) {
	if chatID == 0 {
		return
	}
	idx := h.itemIndex(chatID, userID, it.ID)
	title := fmt.Sprintf("#%d %s", idx+1, itemLabel(it))
	kb := itemKeyboard(userID, it)

	if it.Status == batch.StatusFailed {
		if _, err := h.tg.SendTextWithKeyboard(chatID, fmt.Sprintf("❌ %s: %s", title, it.Error), kb); err != nil {
			h.logger.Warn().Err(err).Int64("chat", chatID).Msg("send failure notice failed")
		}
		return
	}

	for v, img := range it.Results {
		p := telegram.Photo{
			Name:    fmt.Sprintf("result_%d_v%d%s", idx+1, v+1, export.Extension(img.MimeType)),
			Data:    img.Data,
			Caption: fmt.Sprintf("✅ %s · variant %d/%d", title, v+1, len(it.Results)),
		}
		if v == len(it.Results)-1 {
			p.Keyboard = &kb
		}
		if _, err := h.tg.SendPhoto(chatID, p); err != nil {
			h.logger.Warn().Err(err).Int64("chat", chatID).Str("item", it.ID).Msg("send result failed")
			return
		}
	}
}

func (h *Handler) itemIndex(chatID, userID int64, id string) int {
	sess, ok := h.sessions.Lookup(sessionKey(chatID, userID))
	if !ok {
		return 0
	}
	items := sess.Items()
	return max(slices.IndexFunc(items, func(it batch.Item) bool { return it.ID == id }), 0)
}

func (h *Handler) handleItemCallback(ctx context.Context, q *tgbotapi.CallbackQuery, chatID, ownerID int64, action string, args []string) error {
	if len(args) < 1 {
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return nil
	}
	itemID := args[0]
	sess := h.session(chatID, ownerID)

	switch action {
	case actionRetry:
		_ = h.tg.AnswerCallback(q.ID, "Retrying…", false)
		return h.retryItem(chatID, ownerID, itemID)

	case actionDuplicate:
		dup, err := sess.Duplicate(itemID)
		switch {
		case errors.Is(err, batch.ErrCollectionFull):
			return h.tg.AnswerCallback(q.ID, fmt.Sprintf("Limit of %d images reached.", sess.Limit()), true)
		case err != nil:
			return h.tg.AnswerCallback(q.ID, "This image was removed.", true)
		}
		_ = h.tg.AnswerCallback(q.ID, "Duplicated", false)
		return h.tg.SendText(chatID, fmt.Sprintf("⧉ Added a copy as #%d. Press Run to process it.", h.itemIndex(chatID, ownerID, dup.ID)+1))

	case actionRemove:
		if !sess.Remove(itemID) {
			return h.tg.AnswerCallback(q.ID, "Already removed.", false)
		}
		_ = h.tg.AnswerCallback(q.ID, "Removed", false)
		return h.renderWizard(chatID, ownerID, 0, false)

	case actionGet:
		variant := 0
		if len(args) >= 2 {
			variant, _ = strconv.Atoi(args[1])
		}
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.sendResultFile(chatID, ownerID, itemID, variant)
	}
	return nil
}

// sendResultFile sends one result as a document so Telegram keeps it
// uncompressed.
func (h *Handler) sendResultFile(chatID, userID int64, itemID string, variant int) error {
	sess := h.session(chatID, userID)
	it, ok := sess.Item(itemID)
	if !ok || it.Status != batch.StatusSucceeded || variant < 0 || variant >= len(it.Results) {
		return h.tg.SendText(chatID, "This result is no longer available.")
	}
	img := it.Results[variant]
	name := export.ResultFileName(h.itemIndex(chatID, userID, itemID), variant, it.Run.Mode, it.Run.AspectRatio, img.MimeType, h.now())
	return h.tg.SendDocument(chatID, telegram.Document{Name: name, Data: img.Data})
}

func itemKeyboard(ownerID int64, it batch.Item) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if it.Status == batch.StatusSucceeded && len(it.Results) > 0 {
		var dl []tgbotapi.InlineKeyboardButton
		for v := range it.Results {
			dl = append(dl, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⬇️ %d", v+1), cb(ownerID, actionGet, it.ID, strconv.Itoa(v))))
		}
		rows = append(rows, dl)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔄 Retry", cb(ownerID, actionRetry, it.ID)),
		tgbotapi.NewInlineKeyboardButtonData("⧉ Duplicate", cb(ownerID, actionDuplicate, it.ID)),
		tgbotapi.NewInlineKeyboardButtonData("✕ Remove", cb(ownerID, actionRemove, it.ID)),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func itemsKeyboard(ownerID int64, items []batch.Item) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for i, it := range items {
		n := strconv.Itoa(i + 1)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔄 #"+n, cb(ownerID, actionRetry, it.ID)),
			tgbotapi.NewInlineKeyboardButtonData("⧉ #"+n, cb(ownerID, actionDuplicate, it.ID)),
			tgbotapi.NewInlineKeyboardButtonData("✕ #"+n, cb(ownerID, actionRemove, it.ID)),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
