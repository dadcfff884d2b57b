package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"image-magic/internal/batch"
	"image-magic/internal/gemini"
	"image-magic/internal/prompt"
	"image-magic/internal/telegram"
)

const (
	testChat = int64(100)
	testUser = int64(7)
)

type stubMessenger struct {
	mu        sync.Mutex
	texts     []string
	keyboards int
	edits     int
	answers   []string
	photos    []telegram.Photo
	documents []telegram.Document
	download  telegram.File
	nextID    int
}

func (m *stubMessenger) SendTyping(int64) {}

func (m *stubMessenger) SendText(_ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *stubMessenger) SendTextWithKeyboard(_ int64, text string, _ telegram.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	m.keyboards++
	m.nextID++
	return m.nextID, nil
}

func (m *stubMessenger) EditTextWithKeyboard(int64, int, string, telegram.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits++
	return nil
}

func (m *stubMessenger) AnswerCallback(_ string, text string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *stubMessenger) SendPhoto(_ int64, p telegram.Photo) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, p)
	m.nextID++
	return m.nextID, nil
}

func (m *stubMessenger) SendDocument(_ int64, d telegram.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, d)
	return nil
}

func (m *stubMessenger) DownloadFile(context.Context, string) (telegram.File, error) {
	return m.download, nil
}

func (m *stubMessenger) allText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.texts, "\n---\n")
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req gemini.Request) (gemini.Image, error) {
	return gemini.Image{Data: []byte(fmt.Sprintf("result-%d", req.Variant)), MimeType: "image/png"}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestHandler(t *testing.T) (*Handler, *stubMessenger) {
	t.Helper()
	tg := &stubMessenger{download: telegram.File{Data: pngBytes(t), MimeType: "image/png"}}
	h := New(Options{Telegram: tg, Generator: echoGenerator{}})
	return h, tg
}

func message(text string) telegram.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: testUser},
		Chat:      &tgbotapi.Chat{ID: testChat},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return telegram.Update{Message: msg}
}

func photo(fileID string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: testUser},
		Chat:      &tgbotapi.Chat{ID: testChat},
		Photo:     []tgbotapi.PhotoSize{{FileID: fileID + "-small"}, {FileID: fileID}},
	}}
}

func callback(from int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 50, Chat: &tgbotapi.Chat{ID: testChat}},
		Data:    data,
	}}
}

func handle(t *testing.T, h *Handler, u telegram.Update) {
	t.Helper()
	if err := h.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	h.Wait()
}

func TestPhotoInstructionRunDeliversResults(t *testing.T) {
	h, tg := newTestHandler(t)

	handle(t, h, photo("p1"))
	handle(t, h, message("replace the background with a marble table"))
	handle(t, h, message("/run"))

	tg.mu.Lock()
	defer tg.mu.Unlock()
	if len(tg.photos) != 1 {
		t.Fatalf("photos sent = %d, want 1", len(tg.photos))
	}
	if tg.photos[0].Keyboard == nil || string(tg.photos[0].Data) != "result-0" {
		t.Fatalf("photo = %+v", tg.photos[0])
	}
	joined := strings.Join(tg.texts, "\n")
	for _, want := range []string{"Added 1 image(s)", "Instruction saved", "Done: 1 succeeded, 0 failed"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in:\n%s", want, joined)
		}
	}
}

func TestRunNeedsInstruction(t *testing.T) {
	h, tg := newTestHandler(t)

	handle(t, h, message("/run"))
	if !strings.Contains(tg.allText(), "Send product photos first") {
		t.Fatalf("texts = %s", tg.allText())
	}

	handle(t, h, photo("p1"))
	handle(t, h, message("/run"))
	if !strings.Contains(tg.allText(), "Describe the edit first") {
		t.Fatalf("texts = %s", tg.allText())
	}
}

func TestCallbackOwnerCheck(t *testing.T) {
	h, tg := newTestHandler(t)

	handle(t, h, callback(999, cb(testUser, "mode", "banner")))
	if got := h.session(testChat, testUser).Settings().Mode; got != prompt.ModeBackground {
		t.Fatalf("foreign callback changed mode to %s", got)
	}
	if len(tg.answers) != 1 || !strings.Contains(tg.answers[0], "someone else") {
		t.Fatalf("answers = %v", tg.answers)
	}
}

func TestSettingsCallbacks(t *testing.T) {
	h, tg := newTestHandler(t)

	handle(t, h, callback(testUser, cb(testUser, "mode", "banner")))
	handle(t, h, callback(testUser, cb(testUser, "ar", "9-16")))
	handle(t, h, callback(testUser, cb(testUser, "var", "3")))
	handle(t, h, callback(testUser, cb(testUser, "hq")))
	handle(t, h, callback(testUser, cb(testUser, "theme", "christmas")))

	st := h.session(testChat, testUser).Settings()
	want := prompt.Settings{
		Mode:        prompt.ModeBanner,
		Theme:       "christmas",
		Style:       prompt.DefaultSettings().Style,
		HighQuality: true,
		AspectRatio: prompt.AspectPortrait,
		Variants:    3,
	}
	if st != want {
		t.Fatalf("settings = %+v, want %+v", st, want)
	}
	if tg.edits != 5 {
		t.Fatalf("wizard edits = %d, want 5", tg.edits)
	}
}

func TestSettingsCommandArgs(t *testing.T) {
	h, _ := newTestHandler(t)

	handle(t, h, message("/settings banner 16:9 x2 theme=summer"))

	st := h.session(testChat, testUser).Settings()
	if st.Mode != prompt.ModeBanner || st.AspectRatio != prompt.AspectLandscape || st.Variants != 2 || st.Theme != "summer" {
		t.Fatalf("settings = %+v", st)
	}
}

func TestZipNeedsTwoSucceeded(t *testing.T) {
	h, tg := newTestHandler(t)

	handle(t, h, photo("p1"))
	handle(t, h, message("white background"))
	handle(t, h, message("/run"))
	handle(t, h, message("/zip"))
	if len(tg.documents) != 0 || !strings.Contains(tg.allText(), "at least two") {
		t.Fatalf("documents = %d, texts = %s", len(tg.documents), tg.allText())
	}

	handle(t, h, photo("p2"))
	handle(t, h, message("/run"))
	handle(t, h, message("/zip"))
	if len(tg.documents) != 1 || !strings.HasPrefix(tg.documents[0].Name, "Gemini_Batch_Result_") {
		t.Fatalf("documents = %+v", tg.documents)
	}
}

func TestItemCallbacks(t *testing.T) {
	h, tg := newTestHandler(t)
	handle(t, h, photo("p1"))
	handle(t, h, message("white background"))
	handle(t, h, message("/run"))

	sess := h.session(testChat, testUser)
	id := sess.Items()[0].ID

	handle(t, h, callback(testUser, cb(testUser, actionGet, id, "0")))
	if len(tg.documents) != 1 || !strings.HasPrefix(tg.documents[0].Name, "gemini-edit-0-0-background-1-1-") {
		t.Fatalf("documents = %+v", tg.documents)
	}

	handle(t, h, callback(testUser, cb(testUser, actionDuplicate, id)))
	if sess.Len() != 2 {
		t.Fatalf("len after duplicate = %d", sess.Len())
	}

	handle(t, h, callback(testUser, cb(testUser, actionRetry, id)))
	if it, _ := sess.Item(id); it.Attempt != 2 || it.Status != batch.StatusSucceeded {
		t.Fatalf("retried item = %+v", it)
	}

	handle(t, h, callback(testUser, cb(testUser, actionRemove, id)))
	if _, ok := sess.Item(id); ok || sess.Len() != 1 {
		t.Fatal("item not removed")
	}
}

func TestNonImageDocumentIsRejected(t *testing.T) {
	h, tg := newTestHandler(t)
	handle(t, h, telegram.Update{Message: &tgbotapi.Message{
		MessageID: 3,
		From:      &tgbotapi.User{ID: testUser},
		Chat:      &tgbotapi.Chat{ID: testChat},
		Document:  &tgbotapi.Document{FileID: "d1", FileName: "specs.pdf", MimeType: "application/pdf"},
	}})

	if h.session(testChat, testUser).Len() != 0 {
		t.Fatal("pdf was added")
	}
	if !strings.Contains(tg.allText(), "valid image") {
		t.Fatalf("texts = %s", tg.allText())
	}
}

type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGenerator) Generate(ctx context.Context, req gemini.Request) (gemini.Image, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return gemini.Image{Data: []byte("out"), MimeType: "image/png"}, nil
	case <-ctx.Done():
		return gemini.Image{}, ctx.Err()
	}
}

func TestRunDoesNotHoldTheUpdate(t *testing.T) {
	gen := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	tg := &stubMessenger{download: telegram.File{Data: pngBytes(t), MimeType: "image/png"}}
	h := New(Options{Telegram: tg, Generator: gen})

	handle(t, h, photo("p1"))
	handle(t, h, photo("p2"))
	handle(t, h, message("white background"))

	if err := h.HandleUpdate(context.Background(), message("/run")); err != nil {
		t.Fatalf("HandleUpdate(/run): %v", err)
	}
	<-gen.started

	sess := h.session(testChat, testUser)
	if !sess.Running() {
		t.Fatal("run should still be in flight")
	}

	if err := h.HandleUpdate(context.Background(), message("/run")); err != nil {
		t.Fatalf("HandleUpdate(second /run): %v", err)
	}
	if !strings.Contains(tg.allText(), "already in progress") {
		t.Fatalf("texts = %s", tg.allText())
	}

	removed := sess.Items()[0].ID
	if err := h.HandleUpdate(context.Background(), callback(testUser, cb(testUser, actionRemove, removed))); err != nil {
		t.Fatalf("remove during run: %v", err)
	}
	if _, ok := sess.Item(removed); ok {
		t.Fatal("item not removed while the run was in flight")
	}

	close(gen.release)
	h.Wait()

	if !strings.Contains(tg.allText(), "Done: 1 succeeded, 0 failed. 1 result(s) were dropped") {
		t.Fatalf("texts = %s", tg.allText())
	}
	if sess.Running() {
		t.Fatal("session still running")
	}
}
