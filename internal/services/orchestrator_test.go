package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/listafacil/listafacil-backend/internal/models"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeScheduled struct {
	at time.Time
	f  func()
}

// fakeClock is a virtual clock: AfterFunc timers only fire on Advance,
// synchronously, in deadline order
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]fakeScheduled
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		timers: make(map[int]fakeScheduled),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.timers[id] = fakeScheduled{at: c.now.Add(d), f: f}
	return &fakeClockTimer{clock: c, id: id}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	type due struct {
		at time.Time
		f  func()
	}
	var fire []due
	for id, t := range c.timers {
		if !t.at.After(c.now) {
			fire = append(fire, due{at: t.at, f: t.f})
			delete(c.timers, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(fire, func(i, j int) bool { return fire[i].at.Before(fire[j].at) })
	for _, t := range fire {
		t.f()
	}
}

type fakeClockTimer struct {
	clock *fakeClock
	id    int
}

func (t *fakeClockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	_, armed := t.clock.timers[t.id]
	delete(t.clock.timers, t.id)
	return armed
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMessenger) Send(groupID, text string, opts *SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *fakeMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type fakeVision struct {
	mu      sync.Mutex
	calls   int
	analyze func(ctx context.Context, images [][]byte) (*models.VisionResult, error)
}

func (v *fakeVision) Analyze(ctx context.Context, images [][]byte) (*models.VisionResult, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.analyze != nil {
		return v.analyze(ctx, images)
	}
	return &models.VisionResult{
		Confidence: 0.9,
		Facts:      models.ProductFacts{Brand: "Samsung", Condition: "usado"},
		Title:      "Micro-ondas Samsung 30L",
	}, nil
}

func (v *fakeVision) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fakeMarket struct {
	mu          sync.Mutex
	createCalls int
	lastPayload *ItemPayload
	descText    string

	createErr  error
	descSetErr error
	schema     []CategoryAttribute
}

func (m *fakeMarket) PredictCategory(ctx context.Context, title string) (string, error) {
	return "MLB1234", nil
}

func (m *fakeMarket) SearchComparables(ctx context.Context, query, categoryID string) ([]models.Comparable, error) {
	comps := make([]models.Comparable, 0, 7)
	for _, p := range []float64{1000, 1100, 1200, 1300, 1400, 1500, 1600} {
		comps = append(comps, models.Comparable{Price: p, Currency: "BRL", Condition: "used"})
	}
	return comps, nil
}

func (m *fakeMarket) GetCategoryAttributes(ctx context.Context, categoryID string) ([]CategoryAttribute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schema, nil
}

func (m *fakeMarket) UploadPicture(ctx context.Context, data []byte, mimeType string) (string, error) {
	return "pic-1", nil
}

func (m *fakeMarket) ValidateItemWithRepair(ctx context.Context, payload *ItemPayload, rc RepairContext) error {
	return nil
}

func (m *fakeMarket) CreateItemWithRepair(ctx context.Context, payload *ItemPayload, schema []CategoryAttribute,
	condition string, facts models.ProductFacts, overrides map[string]string) (*CreatedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.lastPayload = payload
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &CreatedItem{ID: "MLB999", Status: "paused", Permalink: "https://produto.mercadolivre.com.br/MLB999"}, nil
}

func (m *fakeMarket) PauseItem(ctx context.Context, itemID string) error { return nil }

func (m *fakeMarket) GetDescription(ctx context.Context, itemID string) (string, error) {
	return "", nil
}

func (m *fakeMarket) SetDescription(ctx context.Context, itemID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.descSetErr != nil {
		return m.descSetErr
	}
	m.descText = text
	return nil
}

func (m *fakeMarket) created() (int, *ItemPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.lastPayload
}

// ─── Harness ─────────────────────────────────────────────────────────────────

type testEnv struct {
	orch   *Orchestrator
	store  storage.Store
	clock  *fakeClock
	market *fakeMarket
	vision *fakeVision
	sender *fakeMessenger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewDocumentStore(storage.NewFilePersister(filepath.Join(dir, "state.json")))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock()
	market := &fakeMarket{}
	vision := &fakeVision{}
	sender := &fakeMessenger{}

	outbound := NewOutboundQueue(sender, 0, 1, 0)
	outbound.Start()
	t.Cleanup(outbound.Stop)

	orch := NewOrchestrator(store, market, vision, outbound, clock)
	orch.photoDir = filepath.Join(dir, "photos")

	return &testEnv{orch: orch, store: store, clock: clock, market: market, vision: vision, sender: sender}
}

func (e *testEnv) settle() {
	e.orch.inbound.Wait()
	e.orch.analysis.Wait()
}

func (e *testEnv) session(t *testing.T) *models.Session {
	t.Helper()
	doc, err := e.store.Read()
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	for _, s := range doc.Sessions {
		return s
	}
	return nil
}

func (e *testEnv) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func meta(msgID string) EventMeta {
	return EventMeta{GroupID: "group-1", SenderID: "user-1", MessageID: msgID}
}

func photoEvent(msgID string) ImageEvent {
	return ImageEvent{EventMeta: meta(msgID), MimeType: "image/jpeg", Data: []byte("jpeg-bytes-" + msgID)}
}

// seed inserts a prebuilt session and returns its id
func (e *testEnv) seed(t *testing.T, s *models.Session) string {
	t.Helper()
	if _, err := e.store.Update(func(doc *models.Document) error {
		doc.Sessions[s.ID] = s
		return nil
	}); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return s.ID
}

func readyDraftSession(id string, now time.Time) *models.Session {
	return &models.Session{
		ID:        id,
		GroupID:   "group-1",
		UserID:    "user-1",
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.StatusAwaitingConfirmation,
		Vision: &models.VisionResult{
			Facts: models.ProductFacts{Brand: "Samsung", Condition: "usado"},
			Title: "Micro-ondas Samsung 30L",
		},
		CategoryID: "MLB1234",
		Draft: &models.ListingDraft{
			Title:      "Micro-ondas Samsung 30L",
			Price:      1200,
			CurrencyID: "BRL",
			CategoryID: "MLB1234",
			Condition:  "usado",
			Attributes: []models.DraftAttribute{{ID: "BRAND", ValueName: "Samsung"}},
		},
	}
}

// ─── Debounce & analysis ─────────────────────────────────────────────────────

func TestPhotoDebounceExtendsWindow(t *testing.T) {
	e := newTestEnv(t)

	e.orch.HandleEvent(photoEvent("m1"))
	e.orch.inbound.Wait()

	s := e.session(t)
	if s == nil || s.Status != models.StatusCollectingPhotos {
		t.Fatalf("expected a collecting session after first photo, got %+v", s)
	}
	if len(s.Photos) != 1 {
		t.Fatalf("expected 1 photo, got %d", len(s.Photos))
	}

	// Second photo 20s in pushes the deadline to t=50s
	e.clock.Advance(20 * time.Second)
	e.orch.HandleEvent(photoEvent("m2"))
	e.orch.inbound.Wait()

	// The original t=30s deadline must not trigger analysis
	e.clock.Advance(10 * time.Second)
	e.settle()
	if got := e.session(t).Status; got != models.StatusCollectingPhotos {
		t.Fatalf("analysis fired before the extended deadline, status = %s", got)
	}
	if e.vision.callCount() != 0 {
		t.Fatalf("vision called %d times before deadline", e.vision.callCount())
	}

	// t=50s: now it fires, exactly once
	e.clock.Advance(20 * time.Second)
	e.settle()

	s = e.session(t)
	if s.Status == models.StatusCollectingPhotos || s.Status == models.StatusAnalyzing {
		t.Fatalf("expected analysis to complete, status = %s", s.Status)
	}
	if e.vision.callCount() != 1 {
		t.Fatalf("expected exactly 1 vision call, got %d", e.vision.callCount())
	}
	if len(s.Photos) != 2 {
		t.Fatalf("expected both photos analyzed, got %d", len(s.Photos))
	}
	if s.CategoryID != "MLB1234" {
		t.Fatalf("expected predicted category, got %q", s.CategoryID)
	}
	if s.Pricing == nil || s.Pricing.SuggestedFair != 1200 {
		t.Fatalf("expected fair price 1200 from comparables, got %+v", s.Pricing)
	}
}

func TestCancelDuringAnalysisDiscardsResult(t *testing.T) {
	e := newTestEnv(t)

	release := make(chan struct{})
	e.vision.analyze = func(ctx context.Context, images [][]byte) (*models.VisionResult, error) {
		<-release
		return &models.VisionResult{Title: "Produto"}, nil
	}

	e.orch.HandleEvent(photoEvent("m1"))
	e.orch.inbound.Wait()
	e.clock.Advance(30 * time.Second)

	e.waitFor(t, "analysis to claim the session", func() bool {
		return e.session(t).Status == models.StatusAnalyzing
	})

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m2"), Kind: CmdCancel})
	e.orch.inbound.Wait()
	if got := e.session(t).Status; got != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}

	close(release)
	e.settle()

	s := e.session(t)
	if s.Status != models.StatusCancelled {
		t.Fatalf("analysis result revived a cancelled session, status = %s", s.Status)
	}
	if s.Draft != nil || s.Vision != nil {
		t.Fatalf("expected analysis result discarded, got draft=%+v vision=%+v", s.Draft, s.Vision)
	}
}

func TestMaxPhotosCapped(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.store.Update(func(doc *models.Document) error {
		doc.Settings.MaxPhotos = 2
		return nil
	}); err != nil {
		t.Fatalf("failed to set max_photos: %v", err)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		e.orch.HandleEvent(photoEvent(id))
		e.orch.inbound.Wait()
	}

	if got := len(e.session(t).Photos); got != 2 {
		t.Fatalf("expected photo cap at 2, got %d", got)
	}

	// the third photo was rejected, so only two files may remain on disk
	entries, err := os.ReadDir(e.orch.photoDir)
	if err != nil {
		t.Fatalf("failed to read photo dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 photo files on disk, got %d", len(entries))
	}
}

func TestRejectedPhotoFileIsRemoved(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, readyDraftSession("s1", e.clock.Now()))

	e.orch.HandleEvent(photoEvent("m1"))
	e.orch.inbound.Wait()

	if got := len(e.session(t).Photos); got != 0 {
		t.Fatalf("expected no photos on a session awaiting confirmation, got %d", got)
	}
	entries, err := os.ReadDir(e.orch.photoDir)
	if err != nil {
		t.Fatalf("failed to read photo dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected rejected photo file to be removed, found %d files", len(entries))
	}
}

// The media download must run on the inbound queue, never inline in the
// caller, so a slow gateway cannot hold up the webhook ack
func TestMediaFetchedAsynchronously(t *testing.T) {
	e := newTestEnv(t)

	release := make(chan struct{})
	fetch := func(mediaURL string) ([]byte, string, error) {
		<-release
		return []byte("jpeg-bytes"), "image/jpeg", nil
	}

	e.orch.HandleMedia(meta("m1"), "https://api.twilio.com/media/m1", "image/jpeg", fetch)

	if s := e.session(t); s != nil {
		t.Fatalf("no session may exist before the download finishes, got %+v", s)
	}

	close(release)
	e.orch.inbound.Wait()

	s := e.session(t)
	if s == nil || len(s.Photos) != 1 {
		t.Fatalf("expected one photo after the download completed, got %+v", s)
	}
	if s.Photos[0].MimeType != "image/jpeg" {
		t.Fatalf("expected fetched content type recorded, got %q", s.Photos[0].MimeType)
	}
}

// ─── Publish ─────────────────────────────────────────────────────────────────

// seedWithPhoto attaches a real photo file so the upload step can read it
func (e *testEnv) seedWithPhoto(t *testing.T, s *models.Session) string {
	t.Helper()
	if err := os.MkdirAll(e.orch.photoDir, 0o755); err != nil {
		t.Fatalf("failed to create photo dir: %v", err)
	}
	path := filepath.Join(e.orch.photoDir, "p1.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("failed to write photo: %v", err)
	}
	s.Photos = []models.PhotoRef{{ID: "p1", MimeType: "image/jpeg", Path: path}}
	return e.seed(t, s)
}

func TestConfirmCreatesPausedItem(t *testing.T) {
	e := newTestEnv(t)
	e.seedWithPhoto(t, readyDraftSession("s1", e.clock.Now()))

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m1"), Kind: CmdConfirm})
	e.settle()

	calls, payload := e.market.created()
	if calls != 1 {
		t.Fatalf("expected 1 create call, got %d", calls)
	}
	if payload.Status != "paused" {
		t.Fatalf("item must be created paused, got %q", payload.Status)
	}
	if payload.AvailableQuantity != 1 || payload.BuyingMode != "buy_it_now" {
		t.Fatalf("unexpected payload defaults: %+v", payload)
	}
	if payload.Condition != "used" {
		t.Fatalf("expected condition mapped to used, got %q", payload.Condition)
	}
	if len(payload.Pictures) != 1 || payload.Pictures[0].ID != "pic-1" {
		t.Fatalf("expected uploaded picture wired in, got %+v", payload.Pictures)
	}

	s := e.session(t)
	if s.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", s.Status)
	}
	if s.Published == nil || s.Published.ItemID != "MLB999" {
		t.Fatalf("expected published item persisted, got %+v", s.Published)
	}
	if s.Error != "" {
		t.Fatalf("expected clean finish, got error %q", s.Error)
	}
}

func TestPublishPostCreateFailureStillEndsDone(t *testing.T) {
	e := newTestEnv(t)
	e.market.descSetErr = os.ErrPermission

	sess := readyDraftSession("s1", e.clock.Now())
	sess.Draft.Description = "Funciona perfeitamente"
	e.seedWithPhoto(t, sess)

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m1"), Kind: CmdConfirm})
	e.settle()

	s := e.session(t)
	if s.Status != models.StatusDone {
		t.Fatalf("post-create failure must still end done, got %s", s.Status)
	}
	if s.Published == nil || s.Published.ItemID != "MLB999" {
		t.Fatalf("item id must be persisted even on failure, got %+v", s.Published)
	}
	if !strings.Contains(s.Error, "descrição") {
		t.Fatalf("expected description failure noted, got %q", s.Error)
	}
}

func TestPublishPreCreateFailureReturnsToConfirmation(t *testing.T) {
	e := newTestEnv(t)
	e.market.createErr = os.ErrDeadlineExceeded

	e.seedWithPhoto(t, readyDraftSession("s1", e.clock.Now()))

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m1"), Kind: CmdConfirm})
	e.settle()

	s := e.session(t)
	if s.Status != models.StatusAwaitingConfirmation {
		t.Fatalf("expected rollback to awaiting_confirmation, got %s", s.Status)
	}
	if s.Published != nil {
		t.Fatalf("no item exists, nothing should be persisted: %+v", s.Published)
	}
}

func TestConfirmOnFinishedSessionCreatesNothing(t *testing.T) {
	e := newTestEnv(t)
	sess := readyDraftSession("s1", e.clock.Now())
	sess.Status = models.StatusDone
	sess.Published = &models.PublishedItem{ItemID: "MLB999"}
	e.seed(t, sess)

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m1"), Kind: CmdConfirm})
	e.settle()

	if calls, _ := e.market.created(); calls != 0 {
		t.Fatalf("repeated confirm must never duplicate an item, got %d creates", calls)
	}
	if got := e.session(t).Status; got != models.StatusDone {
		t.Fatalf("terminal session must stay done, got %s", got)
	}
}

// ─── Negotiation via free text ───────────────────────────────────────────────

func TestUserInputAdvancesToConfirmation(t *testing.T) {
	e := newTestEnv(t)
	e.market.schema = []CategoryAttribute{
		{ID: "ITEM_CONDITION", Name: "Condição do item", Values: []AttributeOption{
			{ID: "2230284", Name: "Novo"},
			{ID: "2230581", Name: "Usado"},
		}},
	}

	sess := &models.Session{
		ID:        "s1",
		GroupID:   "group-1",
		UserID:    "user-1",
		CreatedAt: e.clock.Now(),
		UpdatedAt: e.clock.Now(),
		Status:    models.StatusAwaitingUserInfo,
		Vision: &models.VisionResult{
			Facts: models.ProductFacts{Condition: "usado"},
			Title: "Micro-ondas Samsung 30L",
		},
		CategoryID: "MLB1234",
		Draft:      &models.ListingDraft{MissingFields: []string{"price"}},
	}
	e.seed(t, sess)

	e.orch.HandleEvent(TextEvent{EventMeta: meta("m1"), Body: "preco=1200"})
	e.settle()

	s := e.session(t)
	if s.Status != models.StatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation after price arrived, got %s", s.Status)
	}
	if s.Draft.Price != 1200 {
		t.Fatalf("expected price 1200, got %v", s.Draft.Price)
	}
	var condition *models.DraftAttribute
	for i := range s.Draft.Attributes {
		if s.Draft.Attributes[i].ID == "ITEM_CONDITION" {
			condition = &s.Draft.Attributes[i]
		}
	}
	if condition == nil || condition.ValueID != "2230581" {
		t.Fatalf("expected condition resolved to Usado, got %+v", condition)
	}
}

func TestUserOverrideRecomputesDraft(t *testing.T) {
	e := newTestEnv(t)

	sess := readyDraftSession("s1", e.clock.Now())
	sess.Status = models.StatusAwaitingConfirmation
	e.seed(t, sess)

	e.orch.HandleEvent(TextEvent{EventMeta: meta("m1"), Body: "titulo=Micro-ondas Samsung 30L Inox\npreco=1350"})
	e.settle()

	s := e.session(t)
	if s.Draft.Title != "Micro-ondas Samsung 30L Inox" {
		t.Fatalf("expected overridden title, got %q", s.Draft.Title)
	}
	if s.Draft.Price != 1350 {
		t.Fatalf("expected overridden price, got %v", s.Draft.Price)
	}
	if s.Status != models.StatusAwaitingConfirmation {
		t.Fatalf("a complete draft should stay at awaiting_confirmation, got %s", s.Status)
	}
}

// In guided mode the bot asks one question at a time and a bare answer
// fills the pending field
func TestGuidedDialogAsksAndAdvances(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.store.Update(func(doc *models.Document) error {
		doc.Settings.DialogMode = "guided"
		return nil
	}); err != nil {
		t.Fatalf("failed to set dialog_mode: %v", err)
	}

	sess := &models.Session{
		ID:        "s1",
		GroupID:   "group-1",
		UserID:    "user-1",
		CreatedAt: e.clock.Now(),
		UpdatedAt: e.clock.Now(),
		Status:    models.StatusAwaitingUserInfo,
		Vision: &models.VisionResult{
			Title: "Micro-ondas Samsung 30L",
		},
		CategoryID: "MLB1234",
		Pending:    &models.PendingField{Kind: models.PendingCondition},
		Draft:      &models.ListingDraft{MissingFields: []string{"condition", "price"}},
	}
	e.seed(t, sess)

	// Bare answer fills the condition, and the next question is the price
	e.orch.HandleEvent(TextEvent{EventMeta: meta("m1"), Body: "usado"})
	e.settle()

	s := e.session(t)
	if s.Status != models.StatusAwaitingUserInfo {
		t.Fatalf("draft still misses price, expected awaiting_user_info, got %s", s.Status)
	}
	if s.Pending == nil || s.Pending.Kind != models.PendingPrice {
		t.Fatalf("expected pending cursor on price, got %+v", s.Pending)
	}
	e.waitFor(t, "price question", func() bool {
		for _, msg := range e.sender.messages() {
			if strings.Contains(msg, "Qual preço") {
				return true
			}
		}
		return false
	})

	e.orch.HandleEvent(TextEvent{EventMeta: meta("m2"), Body: "1200"})
	e.settle()

	s = e.session(t)
	if s.Status != models.StatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation once the draft is complete, got %s", s.Status)
	}
	if s.Draft.Price != 1200 {
		t.Fatalf("expected bare answer parsed as price 1200, got %v", s.Draft.Price)
	}
	if s.Pending != nil {
		t.Fatalf("expected no pending question on a complete draft, got %+v", s.Pending)
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

func TestConfigCommandUpdatesSettings(t *testing.T) {
	e := newTestEnv(t)

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m1"), Kind: CmdConfig, Args: []string{"dialog_mode", "guided"}})
	e.orch.inbound.Wait()

	doc, _ := e.store.Read()
	if doc.Settings.DialogMode != "guided" {
		t.Fatalf("expected dialog_mode guided, got %q", doc.Settings.DialogMode)
	}

	// Unknown keys and out-of-range values are rejected
	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m2"), Kind: CmdConfig, Args: []string{"ml_client_secret", "x"}})
	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m3"), Kind: CmdConfig, Args: []string{"max_photos", "500"}})
	e.orch.inbound.Wait()

	doc, _ = e.store.Read()
	if doc.Settings.MaxPhotos != models.DefaultSettings().MaxPhotos {
		t.Fatalf("out-of-range max_photos must be rejected, got %d", doc.Settings.MaxPhotos)
	}
}

func TestNewCommandCancelsPreviousSession(t *testing.T) {
	e := newTestEnv(t)

	e.orch.HandleEvent(photoEvent("m1"))
	e.orch.inbound.Wait()
	first := e.session(t).ID

	e.orch.HandleEvent(CommandEvent{EventMeta: meta("m2"), Kind: CmdNew})
	e.orch.inbound.Wait()

	doc, _ := e.store.Read()
	if len(doc.Sessions) != 2 {
		t.Fatalf("expected old + new session, got %d", len(doc.Sessions))
	}
	if doc.Sessions[first].Status != models.StatusCancelled {
		t.Fatalf("expected previous session cancelled, got %s", doc.Sessions[first].Status)
	}

	// The cancelled session's debounce timer must be gone
	e.clock.Advance(time.Minute)
	e.settle()
	if e.vision.callCount() != 0 {
		t.Fatalf("cancelled session's timer still fired analysis")
	}
}

// ─── Recovery ────────────────────────────────────────────────────────────────

func TestRecoverReschedulesDebounce(t *testing.T) {
	e := newTestEnv(t)

	until := e.clock.Now().Add(5 * time.Second)
	sess := &models.Session{
		ID:           "s1",
		GroupID:      "group-1",
		UserID:       "user-1",
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
		Status:       models.StatusCollectingPhotos,
		CollectUntil: &until,
	}
	e.seedWithPhoto(t, sess)

	if err := e.orch.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if e.orch.ActiveTimers() != 1 {
		t.Fatalf("expected 1 rescheduled timer, got %d", e.orch.ActiveTimers())
	}

	e.clock.Advance(5 * time.Second)
	e.settle()

	if got := e.session(t).Status; got == models.StatusCollectingPhotos {
		t.Fatalf("recovered session never analyzed, status = %s", got)
	}
}

func TestRecoverResetsStaleAnalyzing(t *testing.T) {
	e := newTestEnv(t)

	sess := &models.Session{
		ID:        "s1",
		GroupID:   "group-1",
		UserID:    "user-1",
		CreatedAt: e.clock.Now().Add(-time.Hour),
		UpdatedAt: e.clock.Now().Add(-time.Hour),
		Status:    models.StatusAnalyzing,
	}
	e.seedWithPhoto(t, sess)

	if err := e.orch.Recover(); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	e.clock.Advance(0)
	e.settle()

	s := e.session(t)
	if s.Status == models.StatusAnalyzing {
		t.Fatalf("stale analyzing session was not restarted")
	}
	if e.vision.callCount() != 1 {
		t.Fatalf("expected analysis rerun once, got %d", e.vision.callCount())
	}
}

// ─── Descriptions ────────────────────────────────────────────────────────────

func TestMergeDescriptions(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		draft    string
		want     string
	}{
		{"empty existing", "", "Funciona bem", "Funciona bem"},
		{"empty draft", "Texto antigo", "", "Texto antigo"},
		{"equal after normalization", "Funciona bem!", "funciona bem", "funciona bem"},
		{"existing contains draft", "Micro-ondas Samsung, funciona bem", "funciona bem", "Micro-ondas Samsung, funciona bem"},
		{"draft contains existing", "funciona bem", "Micro-ondas Samsung, funciona bem", "Micro-ondas Samsung, funciona bem"},
		{"disjoint keeps both", "Entrego na região", "Micro-ondas 30L", "Micro-ondas 30L\n\nEntrego na região"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MergeDescriptions(tc.existing, tc.draft); got != tc.want {
				t.Fatalf("MergeDescriptions(%q, %q) = %q, want %q", tc.existing, tc.draft, got, tc.want)
			}
		})
	}
}
