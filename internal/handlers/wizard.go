package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"image-magic/internal/batch"
	"image-magic/internal/prompt"
)

const callbackPrefix = "im"

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "These buttons belong to someone else.", true)
		return nil
	}

	action := parts[2]
	args := parts[3:]
	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID

	if isItemAction(action) {
		return h.handleItemCallback(ctx, q, chatID, ownerID, action, args)
	}

	sess := h.session(chatID, ownerID)
	sess.Configure(func(st *prompt.Settings) {
		applySettingAction(st, action, args)
	})

	h.ui.Update(chatID, ownerID, func(st *uiState) {
		st.MessageID = msgID
		switch action {
		case "menu":
			if len(args) >= 1 {
				st.Menu = args[0]
			}
		case "theme", "style", "mode":
			st.Menu = menuMain
		}
	})

	switch action {
	case "instr":
		_ = h.tg.AnswerCallback(q.ID, "Send the instruction as a text message.", false)
		_ = h.tg.SendText(chatID, "✏️ Send the edit instruction as a text message.")
		return nil
	case "prompt":
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.sendPrompt(chatID, ownerID)
	case "run":
		_ = h.tg.AnswerCallback(q.ID, "Starting…", false)
		return h.runBatch(chatID, ownerID)
	case "zip":
		_ = h.tg.AnswerCallback(q.ID, "Packing…", false)
		return h.sendBundle(chatID, ownerID)
	case "items":
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.sendItems(chatID, ownerID)
	case "reset":
		sess.Reset()
		h.ui.Update(chatID, ownerID, func(st *uiState) { st.Menu = menuMain })
		_ = h.tg.AnswerCallback(q.ID, "Cleared", false)
	default:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
	}

	return h.renderWizard(chatID, ownerID, msgID, true)
}

// applySettingAction maps a wizard button onto the settings. Unknown actions
// leave them untouched.
func applySettingAction(st *prompt.Settings, action string, args []string) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	switch action {
	case "mode":
		if m, ok := prompt.ParseMode(arg); ok {
			st.Mode = m
		}
	case "theme":
		st.Theme = arg
	case "style":
		st.Style = arg
	case "hq":
		st.HighQuality = !st.HighQuality
	case "focus":
		st.FocusProduct = !st.FocusProduct
	case "ar":
		if ar, ok := prompt.ParseAspectRatio(strings.ReplaceAll(arg, "-", ":")); ok {
			st.AspectRatio = ar
		}
	case "var":
		if n, ok := prompt.ParseVariants(arg); ok {
			st.Variants = n
		}
	}
}

func (h *Handler) renderWizard(chatID, userID int64, messageID int, edit bool) error {
	ui := h.ui.Get(chatID, userID)
	if messageID == 0 {
		messageID = ui.MessageID
	}
	view := h.session(chatID, userID).View()

	text := wizardText(view)
	kb := wizardKeyboard(userID, ui.Menu, view)

	if edit && messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, messageID, text, kb); err == nil {
			return nil
		}
	}

	msgID, err := h.tg.SendTextWithKeyboard(chatID, text, kb)
	if err != nil {
		return err
	}
	h.ui.Update(chatID, userID, func(st *uiState) { st.MessageID = msgID })
	return nil
}

func wizardText(view batch.View) string {
	st := view.Settings

	var b strings.Builder
	b.WriteString("🪄 Image Magic\n\n")
	fmt.Fprintf(&b, "Images: %d/%d", len(view.Items), batch.MaxItems)
	if len(view.Items) > 0 {
		fmt.Fprintf(&b, " (✅ %d, ❌ %d, ⏳ %d)", view.Succeeded, view.Failed, view.Processing)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Mode: %s\n", prompt.OptionName(prompt.Modes(), string(st.Mode)))
	if st.Mode == prompt.ModeBanner {
		fmt.Fprintf(&b, "Theme: %s\n", prompt.OptionName(prompt.BannerThemes(), st.Theme))
		fmt.Fprintf(&b, "Style: %s\n", prompt.OptionName(prompt.BannerStyles(), st.Style))
	}
	quality := "Standard"
	if st.HighQuality {
		quality = "High (2K)"
	}
	fmt.Fprintf(&b, "Quality: %s\n", quality)
	fmt.Fprintf(&b, "Focus on product: %s\n", onOff(st.FocusProduct || st.Mode == prompt.ModeBanner))
	fmt.Fprintf(&b, "Aspect ratio: %s\n", st.AspectRatio)
	fmt.Fprintf(&b, "Variants per image: %d\n", st.Variants)
	if strings.TrimSpace(st.Instruction) != "" {
		b.WriteString("Instruction: " + truncateLine(st.Instruction, 120) + "\n")
	} else if st.Mode != prompt.ModeBanner {
		b.WriteString("Instruction: (none yet, send it as a text message)\n")
	}

	switch {
	case view.Running:
		b.WriteString("\n⏳ Processing…\n")
	case len(view.Items) == 0:
		b.WriteString("\n📷 Send product photos to begin.\n")
	case view.BundleReady:
		b.WriteString("\n📦 Results ready. Download them all as a ZIP.\n")
	}

	return strings.TrimSpace(b.String())
}

func wizardKeyboard(ownerID int64, menu string, view batch.View) tgbotapi.InlineKeyboardMarkup {
	switch menu {
	case menuTheme:
		return optionKeyboard(ownerID, "theme", prompt.BannerThemes(), view.Settings.Theme)
	case menuStyle:
		return optionKeyboard(ownerID, "style", prompt.BannerStyles(), view.Settings.Style)
	default:
		return mainKeyboard(ownerID, view)
	}
}

func mainKeyboard(ownerID int64, view batch.View) tgbotapi.InlineKeyboardMarkup {
	st := view.Settings

	var modeRow []tgbotapi.InlineKeyboardButton
	for _, m := range prompt.Modes() {
		modeRow = append(modeRow, tgbotapi.NewInlineKeyboardButtonData(checked(m.Name, m.Key == string(st.Mode)), cb(ownerID, "mode", m.Key)))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{modeRow}

	if st.Mode == prompt.ModeBanner {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Theme", cb(ownerID, "menu", menuTheme)),
			tgbotapi.NewInlineKeyboardButtonData("Style", cb(ownerID, "menu", menuStyle)),
		})
	}

	var arRow []tgbotapi.InlineKeyboardButton
	for _, ar := range prompt.AspectRatios() {
		arRow = append(arRow, tgbotapi.NewInlineKeyboardButtonData(checked(ar.Key, ar.Key == string(st.AspectRatio)), cb(ownerID, "ar", strings.ReplaceAll(ar.Key, ":", "-"))))
	}
	var varRow []tgbotapi.InlineKeyboardButton
	for n := prompt.MinVariants; n <= prompt.MaxVariants; n++ {
		varRow = append(varRow, tgbotapi.NewInlineKeyboardButtonData(checked(fmt.Sprintf("x%d", n), n == st.Variants), cb(ownerID, "var", strconv.Itoa(n))))
	}

	rows = append(rows,
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("HQ 2K: "+onOff(st.HighQuality), cb(ownerID, "hq")),
			tgbotapi.NewInlineKeyboardButtonData("Focus: "+onOff(st.FocusProduct || st.Mode == prompt.ModeBanner), cb(ownerID, "focus")),
		},
		arRow,
		varRow,
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✏️ Instruction", cb(ownerID, "instr")),
			tgbotapi.NewInlineKeyboardButtonData("📄 Prompt", cb(ownerID, "prompt")),
		},
	)

	actionRow := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("▶️ Run (%d)", len(view.Items)-view.Succeeded), cb(ownerID, "run")),
	}
	if view.BundleReady {
		actionRow = append(actionRow, tgbotapi.NewInlineKeyboardButtonData("📦 ZIP", cb(ownerID, "zip")))
	}
	rows = append(rows, actionRow, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🗂 Images", cb(ownerID, "items")),
		tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
	})

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func optionKeyboard(ownerID int64, action string, opts []prompt.NamedOption, current string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, opt := range opts {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(checked(opt.Name, opt.Key == current), cb(ownerID, action, opt.Key)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", menuMain)),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func checked(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return label
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
