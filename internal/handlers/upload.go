package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"image-magic/internal/ingest"
	"image-magic/internal/mediagroup"
)

// uploadFile extracts the file reference from a photo or document message.
func uploadFile(msg *tgbotapi.Message) (mediagroup.File, bool) {
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		return mediagroup.File{FileID: photo.FileID, MimeType: "image/jpeg"}, true
	}
	if msg.Document != nil {
		return mediagroup.File{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
		}, true
	}
	return mediagroup.File{}, false
}

func (h *Handler) handleUpload(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	file, ok := uploadFile(msg)
	if !ok {
		return nil
	}

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Part{
			ChatID:       chatID,
			UserID:       userID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			File:         file,
		})
		return nil
	}

	return h.ingestFiles(ctx, chatID, userID, msg.Caption, []mediagroup.File{file}, 0)
}

// ingestFiles downloads what can still fit, hands everything to ingestion so
// the notice covers dropped files too, and adds the seeds to the session.
func (h *Handler) ingestFiles(ctx context.Context, chatID, userID int64, caption string, refs []mediagroup.File, overflow int) error {
	sess := h.session(chatID, userID)
	if c := strings.TrimSpace(caption); c != "" {
		h.setInstruction(chatID, userID, c)
	}

	room := sess.Limit() - sess.Len()
	files := make([]ingest.File, len(refs)+overflow)
	for i, ref := range refs {
		files[i] = ingest.File{Name: ref.FileName, MimeType: ref.MimeType}
	}

	h.tg.SendTyping(chatID)
	eg, egCtx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		if i >= room || !downloadable(ref.MimeType) {
			continue
		}
		eg.Go(func() error {
			f, err := h.tg.DownloadFile(egCtx, ref.FileID)
			if err != nil {
				return err
			}
			files[i].Data = f.Data
			if !strings.HasPrefix(files[i].MimeType, "image/") {
				files[i].MimeType = f.MimeType
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error().Err(err).Int64("chat", chatID).Msg("photo download failed")
		return h.tg.SendText(chatID, "❌ Could not download the image. Please send it again.")
	}

	res, err := ingest.Ingest(ctx, files, sess.Len(), sess.Limit())
	if err != nil {
		return err
	}

	added := sess.Add(res.Seeds...)
	lines := []string{}
	if len(added.Added) > 0 {
		lines = append(lines, fmt.Sprintf("📥 Added %d image(s). Total: %d/%d.", len(added.Added), sess.Len(), sess.Limit()))
	}
	if msg := res.Notice.Message(); msg != "" {
		lines = append(lines, "⚠️ "+msg)
	}
	if added.Dropped > 0 && res.Notice.Empty() {
		lines = append(lines, fmt.Sprintf("⚠️ %d image(s) did not fit.", added.Dropped))
	}
	if len(lines) > 0 {
		_ = h.tg.SendText(chatID, strings.Join(lines, "\n"))
	}
	if len(added.Added) == 0 {
		return nil
	}
	return h.renderWizard(chatID, userID, 0, false)
}

// downloadable skips documents that are declared as something other than an
// image; ingestion reports them as invalid without their bytes.
func downloadable(mimeType string) bool {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	return m == "" || m == "application/octet-stream" || strings.HasPrefix(m, "image/")
}
