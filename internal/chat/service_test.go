package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
)

type fakeProvider struct {
	lastHistory []ai.Message
	reply       string
	chatErr     error

	title    string
	titleErr error

	image    string
	imageErr error
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.lastHistory = append([]ai.Message(nil), messages...)
	if p.chatErr != nil {
		return "", p.chatErr
	}
	return p.reply, nil
}

func (p *fakeProvider) Title(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	_ = prompt
	if p.titleErr != nil {
		return "", p.titleErr
	}
	return p.title, nil
}

func (p *fakeProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	_ = prompt
	if p.imageErr != nil {
		return "", p.imageErr
	}
	return p.image, nil
}

type recordingPublisher struct {
	jobIDs []string
	err    error
}

func (p *recordingPublisher) PublishJob(ctx context.Context, jobID string) error {
	_ = ctx
	if p.err != nil {
		return p.err
	}
	p.jobIDs = append(p.jobIDs, jobID)
	return nil
}

type denyLocker struct{}

func (denyLocker) Acquire(ctx context.Context, chatID string) (bool, error) { return false, nil }
func (denyLocker) Release(ctx context.Context, chatID string) error        { return nil }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Chat{}, &Message{}, &TitleJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov *fakeProvider, titles TitlePublisher, locks SendLocker) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context) (ai.Provider, error) {
		_ = ctx
		return prov, nil
	})
	return NewService(NewRepo(db), reg, "fake", titles, locks, 20)
}

func TestSendAndReply_CreatesChatAndWritesBothRows(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "Hi there"}
	pub := &recordingPublisher{}
	svc := newTestService(t, db, prov, pub, nil)

	chatID, msg, err := svc.SendAndReply(context.Background(), 1, "", "Plan a trip")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if chatID == "" {
		t.Fatalf("expected a chat id to be adopted")
	}
	if msg.Role != RoleAssistant || msg.Content != "Hi there" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msg.Role, msg.Content)
	}

	var c Chat
	if err := db.First(&c, "id = ?", chatID).Error; err != nil {
		t.Fatalf("chat row: %v", err)
	}
	if c.Title != PlaceholderTitle {
		t.Fatalf("expected placeholder title, got %q", c.Title)
	}

	var msgs []Message
	if err := db.Where("chat_id = ?", chatID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Plan a trip" {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hi there" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msgs[1].Role, msgs[1].Content)
	}

	// first user message of a new chat enqueues exactly one title job
	if len(pub.jobIDs) != 1 {
		t.Fatalf("expected 1 title job, got %d", len(pub.jobIDs))
	}
	var job TitleJob
	if err := db.First(&job, "id = ?", pub.jobIDs[0]).Error; err != nil {
		t.Fatalf("job row: %v", err)
	}
	if job.ChatID != chatID || job.Prompt != "Plan a trip" || job.Status != JobQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSendAndReply_ExistingChatEnqueuesNoTitleJob(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok"}
	pub := &recordingPublisher{}
	svc := newTestService(t, db, prov, pub, nil)

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "first")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, _, err := svc.SendAndReply(context.Background(), 1, chatID, "second"); err != nil {
		t.Fatalf("second send: %v", err)
	}

	if len(pub.jobIDs) != 1 {
		t.Fatalf("expected title job only for the new chat, got %d", len(pub.jobIDs))
	}
}

func TestSendAndReply_FiltersImageRowsFromHistory(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok"}
	svc := newTestService(t, db, prov, nil, nil)

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// seed an image prompt, a successful image result and a failed one
	payload := "aGVsbG8="
	repo := NewRepo(db)
	seed := []Message{
		{ChatID: chatID, UserID: 1, Role: RoleUser, Content: "a red fox", IsImagePrompt: true},
		{ChatID: chatID, UserID: 1, Role: RoleAssistant, Content: ImageSentinel, ImageBase64: &payload},
		{ChatID: chatID, UserID: 1, Role: RoleAssistant, Content: ImageSentinel},
	}
	for i := range seed {
		if err := repo.InsertMessage(context.Background(), &seed[i]); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	if _, _, err := svc.SendAndReply(context.Background(), 1, chatID, "and now?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, m := range prov.lastHistory {
		if m.Content == ImageSentinel || m.Content == "a red fox" {
			t.Fatalf("image row leaked into provider history: %+v", m)
		}
	}
	last := prov.lastHistory[len(prov.lastHistory)-1]
	if last.Role != RoleUser || last.Content != "and now?" {
		t.Fatalf("expected newest user msg last, got role=%q content=%q", last.Role, last.Content)
	}
}

func TestSendAndReply_ProviderFailureInsertsFallback(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{chatErr: errors.New("model offline")}
	svc := newTestService(t, db, prov, nil, nil)

	_, msg, err := svc.SendAndReply(context.Background(), 1, "", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != TextFallback {
		t.Fatalf("expected fallback reply, got %q", msg.Content)
	}
}

func TestSendAndReply_RejectsOverlappingSend(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok"}
	svc := newTestService(t, db, prov, nil, denyLocker{})

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "hello")
	if err != nil {
		t.Fatalf("first send (new chat, unlocked): %v", err)
	}

	_, _, err = svc.SendAndReply(context.Background(), 1, chatID, "again")
	if !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
}

func TestSendMessage_RejectsForeignChat(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok"}
	svc := newTestService(t, db, prov, nil, nil)

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "mine")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, _, err = svc.SendMessage(context.Background(), 2, chatID, "yours?", RoleUser, nil, false)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestSendImagePrompt_InsertsPromptAndResultRows(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{image: "aW1hZ2VkYXRh"}
	svc := newTestService(t, db, prov, nil, nil)

	chatID, msgs, err := svc.SendImagePrompt(context.Background(), 1, "", "a red fox in snow")
	if err != nil {
		t.Fatalf("image send: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	prompt := msgs[0]
	if !prompt.IsImagePrompt || prompt.HasImage() || prompt.Content != "a red fox in snow" {
		t.Fatalf("unexpected prompt row: %+v", prompt)
	}
	result := msgs[1]
	if result.Role != RoleAssistant || result.Content != ImageSentinel || !result.HasImage() {
		t.Fatalf("unexpected result row: %+v", result)
	}
	if *result.ImageBase64 != "aW1hZ2VkYXRh" {
		t.Fatalf("unexpected payload: %q", *result.ImageBase64)
	}

	// returned list must match storage
	stored, err := svc.ListMessages(context.Background(), 1, chatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != len(msgs) {
		t.Fatalf("returned list diverges from storage: %d vs %d", len(msgs), len(stored))
	}
}

func TestSendImagePrompt_FailureInsertsFallbackRow(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{imageErr: errors.New("no image generated")}
	svc := newTestService(t, db, prov, nil, nil)

	_, msgs, err := svc.SendImagePrompt(context.Background(), 1, "", "impossible thing")
	if err != nil {
		t.Fatalf("image send: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	fallback := msgs[1]
	if fallback.Role != RoleAssistant || fallback.Content != ImageFallbackText || fallback.HasImage() {
		t.Fatalf("unexpected fallback row: %+v", fallback)
	}
}

func TestCompleteTitleJob_UpdatesTitleInPlace(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok", title: `"Trip Planning"`}
	pub := &recordingPublisher{}
	svc := newTestService(t, db, prov, pub, nil)

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "Plan a trip")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.jobIDs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(pub.jobIDs))
	}

	if err := svc.CompleteTitleJob(context.Background(), pub.jobIDs[0]); err != nil {
		t.Fatalf("complete title job: %v", err)
	}

	var c Chat
	if err := db.First(&c, "id = ?", chatID).Error; err != nil {
		t.Fatalf("chat row: %v", err)
	}
	if c.Title != "Trip Planning" {
		t.Fatalf("expected updated title, got %q", c.Title)
	}

	var job TitleJob
	if err := db.First(&job, "id = ?", pub.jobIDs[0]).Error; err != nil {
		t.Fatalf("job row: %v", err)
	}
	if job.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}

	// messages untouched
	msgs, err := svc.ListMessages(context.Background(), 1, chatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("title update must not touch messages, got %d", len(msgs))
	}
}

func TestCompleteTitleJob_FailureMarksJob(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok", titleErr: errors.New("quota exceeded")}
	pub := &recordingPublisher{}
	svc := newTestService(t, db, prov, pub, nil)

	chatID, _, err := svc.SendAndReply(context.Background(), 1, "", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := svc.CompleteTitleJob(context.Background(), pub.jobIDs[0]); err == nil {
		t.Fatalf("expected error")
	}

	var job TitleJob
	if err := db.First(&job, "id = ?", pub.jobIDs[0]).Error; err != nil {
		t.Fatalf("job row: %v", err)
	}
	if job.Status != JobFailed || job.Error == nil {
		t.Fatalf("expected failed job with error, got %+v", job)
	}

	var c Chat
	if err := db.First(&c, "id = ?", chatID).Error; err != nil {
		t.Fatalf("chat row: %v", err)
	}
	if c.Title != PlaceholderTitle {
		t.Fatalf("title must stay at placeholder, got %q", c.Title)
	}
}

func TestLoadChats_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{reply: "ok"}
	svc := newTestService(t, db, prov, nil, nil)

	first, _, err := svc.SendAndReply(context.Background(), 1, "", "one")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, _, err := svc.SendAndReply(context.Background(), 1, "", "two")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// force distinct created_at ordering
	if err := db.Model(&Chat{}).Where("id = ?", second).
		Update("created_at", time.Now().Add(time.Hour)).Error; err != nil {
		t.Fatalf("bump created_at: %v", err)
	}

	chats, err := svc.LoadChats(context.Background(), 1)
	if err != nil {
		t.Fatalf("load chats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].ID != second || chats[1].ID != first {
		t.Fatalf("expected newest first, got %s then %s", chats[0].ID, chats[1].ID)
	}
}
