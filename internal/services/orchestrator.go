package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/listafacil/listafacil-backend/internal/models"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// errSkip aborts a store update without persisting: the guard of a
// compare-and-set transition did not hold, or the session disappeared
var errSkip = errors.New("transition skipped")

// Marketplace is the slice of the Mercado Livre client the orchestrator
// consumes; *MercadoLivre satisfies it
type Marketplace interface {
	PredictCategory(ctx context.Context, title string) (string, error)
	SearchComparables(ctx context.Context, query, categoryID string) ([]models.Comparable, error)
	GetCategoryAttributes(ctx context.Context, categoryID string) ([]CategoryAttribute, error)
	UploadPicture(ctx context.Context, data []byte, mimeType string) (string, error)
	ValidateItemWithRepair(ctx context.Context, payload *ItemPayload, rc RepairContext) error
	CreateItemWithRepair(ctx context.Context, payload *ItemPayload, schema []CategoryAttribute,
		condition string, facts models.ProductFacts, overrides map[string]string) (*CreatedItem, error)
	PauseItem(ctx context.Context, itemID string) error
	GetDescription(ctx context.Context, itemID string) (string, error)
	SetDescription(ctx context.Context, itemID, text string) error
}

// Orchestrator drives every session through the photo → analysis →
// negotiation → publish lifecycle. All state lives in the store; the
// orchestrator only owns timers and work queues.
type Orchestrator struct {
	store      storage.Store
	market     Marketplace
	vision     Analyzer
	outbound   *OutboundQueue
	negotiator *AttributeNegotiator
	clock      Clock
	timers     *TimerRegistry

	inbound  *TaskQueue
	analysis *TaskQueue

	photoDir   string
	staleAfter time.Duration
}

// NewOrchestrator wires the session orchestrator
func NewOrchestrator(store storage.Store, market Marketplace, vision Analyzer, outbound *OutboundQueue, clock Clock) *Orchestrator {
	return &Orchestrator{
		store:      store,
		market:     market,
		vision:     vision,
		outbound:   outbound,
		negotiator: NewAttributeNegotiator(),
		clock:      clock,
		timers:     NewTimerRegistry(clock),
		inbound:    NewTaskQueue("inbound", 2),
		analysis:   NewTaskQueue("analysis", 2),
		photoDir:   envOr("PHOTO_DIR", "data/photos"),
		staleAfter: time.Duration(envIntOr("STALE_ANALYSIS_MINUTES", 10)) * time.Minute,
	}
}

// HandleEvent accepts one parsed chat event; processing happens on the
// bounded inbound queue so a photo burst cannot starve other sessions
func (o *Orchestrator) HandleEvent(ev InboundEvent) {
	o.inbound.Submit(func() {
		switch e := ev.(type) {
		case ImageEvent:
			o.handlePhoto(e)
		case CommandEvent:
			o.handleCommand(e)
		case TextEvent:
			o.handleText(e)
		}
	})
}

// MediaFetch downloads an inbound attachment by its gateway URL
type MediaFetch func(mediaURL string) (data []byte, contentType string, err error)

// HandleMedia downloads an attachment and treats it as a photo event.
// The download runs on the inbound queue so the webhook can ack before
// the media gateway is even contacted.
func (o *Orchestrator) HandleMedia(meta EventMeta, mediaURL, contentType string, fetch MediaFetch) {
	o.inbound.Submit(func() {
		data, fetchedType, err := fetch(mediaURL)
		if err != nil {
			log.Printf("❌ Failed to download media from %s: %v", meta.SenderID, err)
			return
		}
		if fetchedType == "" {
			fetchedType = contentType
		}
		o.handlePhoto(ImageEvent{EventMeta: meta, MimeType: fetchedType, Data: data})
	})
}

// Shutdown stops timers and drains the queues
func (o *Orchestrator) Shutdown() {
	o.timers.StopAll()
	o.inbound.Wait()
	o.analysis.Wait()
}

// ActiveTimers reports how many debounce timers are armed (for /health)
func (o *Orchestrator) ActiveTimers() int {
	return o.timers.Active()
}

func (o *Orchestrator) reply(groupID, text string) {
	o.outbound.Enqueue(groupID, text, nil)
}

// ─── Photos & debounce ───────────────────────────────────────────────────────

func (o *Orchestrator) handlePhoto(ev ImageEvent) {
	ref, err := o.savePhoto(ev)
	if err != nil {
		log.Printf("❌ Failed to store photo from %s: %v", ev.SenderID, err)
		o.reply(ev.GroupID, "❌ Não consegui salvar a foto, tente enviar de novo")
		return
	}

	var (
		sessionID string
		created   bool
		count     int
		deadline  time.Time
		busy      models.SessionStatus
		full      bool
	)

	_, err = o.store.Update(func(doc *models.Document) error {
		scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
		s := doc.ActiveSession(scope)
		if s == nil {
			s = o.newSession(ev.GroupID, ev.SenderID)
			doc.Sessions[s.ID] = s
			created = true
		}
		sessionID = s.ID

		if s.Status != models.StatusCollectingPhotos {
			busy = s.Status
			return errSkip
		}
		if len(s.Photos) >= doc.Settings.MaxPhotos {
			full = true
			return errSkip
		}

		s.Photos = append(s.Photos, *ref)
		until := o.clock.Now().Add(time.Duration(doc.Settings.CollectWindowSeconds) * time.Second)
		s.CollectUntil = &until
		s.UpdatedAt = o.clock.Now()

		count = len(s.Photos)
		deadline = until
		return nil
	})

	// A ref that never made it into the session must not leave a file
	// behind: only session-referenced photos are ever swept by retention
	if errors.Is(err, errSkip) {
		o.discardPhoto(ref)
		if full {
			o.reply(ev.GroupID, "⚠️ Limite de fotos atingido - aguarde a análise")
		} else {
			log.Printf("📸 Photo ignored for session %s in status %s", sessionID, busy)
		}
		return
	}
	if err != nil {
		o.discardPhoto(ref)
		log.Printf("❌ Failed to record photo: %v", err)
		return
	}

	// Latest arrival wins the debounce window
	id := sessionID
	o.timers.Schedule(id, deadline.Sub(o.clock.Now()), func() {
		o.analysis.Submit(func() { o.runAnalysis(id) })
	})

	if created {
		o.reply(ev.GroupID, "📸 Foto recebida! Vou aguardar alguns segundos por mais fotos antes de analisar")
	} else {
		log.Printf("📸 Photo %d added to session %s, window extended", count, sessionID)
	}
}

func (o *Orchestrator) newSession(groupID, userID string) *models.Session {
	now := o.clock.Now()
	return &models.Session{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.StatusCollectingPhotos,
	}
}

func (o *Orchestrator) savePhoto(ev ImageEvent) (*models.PhotoRef, error) {
	if err := os.MkdirAll(o.photoDir, 0o755); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(ev.Data)
	id := uuid.NewString()

	ext := ".jpg"
	if exts, err := mime.ExtensionsByType(ev.MimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	path := filepath.Join(o.photoDir, id+ext)
	if err := os.WriteFile(path, ev.Data, 0o644); err != nil {
		return nil, err
	}

	return &models.PhotoRef{
		ID:         id,
		MessageID:  ev.MessageID,
		MimeType:   ev.MimeType,
		SHA256:     hex.EncodeToString(sum[:]),
		Path:       path,
		ReceivedAt: o.clock.Now(),
	}, nil
}

func (o *Orchestrator) discardPhoto(ref *models.PhotoRef) {
	if ref == nil || ref.Path == "" {
		return
	}
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("❌ Failed to remove rejected photo %s: %v", ref.Path, err)
	}
}

// ─── Analysis pipeline ───────────────────────────────────────────────────────

// runAnalysis claims the session and drives vision + category + pricing.
// Every transition is a guarded compare-and-set through the store: a timer
// that fired early, or a cancel racing the async calls, makes the guard
// fail and the result is silently discarded.
func (o *Orchestrator) runAnalysis(id string) {
	ctx := context.Background()

	doc, err := o.store.Update(func(doc *models.Document) error {
		s, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		if s.Status != models.StatusCollectingPhotos {
			return errSkip
		}
		// A rescheduled timer may still fire on the old deadline
		if s.CollectUntil != nil && o.clock.Now().Before(*s.CollectUntil) {
			return errSkip
		}
		s.Status = models.StatusAnalyzing
		s.CollectUntil = nil
		s.UpdatedAt = o.clock.Now()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			log.Printf("❌ Failed to claim session %s for analysis: %v", id, err)
		}
		return
	}

	s := doc.Sessions[id]
	settings := doc.Settings
	o.reply(s.GroupID, "🔎 Analisando as fotos...")

	images, err := o.loadPhotos(s.Photos)
	if err != nil {
		o.failAnalysis(id, s.GroupID, fmt.Sprintf("não consegui ler as fotos: %v", err))
		return
	}

	vr, err := o.vision.Analyze(ctx, images)
	if err != nil {
		o.failAnalysis(id, s.GroupID, fmt.Sprintf("análise das fotos falhou: %v", err))
		return
	}
	s.Vision = vr

	// Category, comparables and attribute schema are best-effort here:
	// whatever stays empty becomes a gap the negotiation loop asks about
	if vr.Title != "" {
		if cat, err := o.market.PredictCategory(ctx, vr.Title); err == nil {
			s.CategoryID = cat
		} else {
			log.Printf("⚠️  Category prediction failed for session %s: %v", id, err)
		}
	}

	if vr.Title != "" {
		if comps, err := o.market.SearchComparables(ctx, vr.Title, s.CategoryID); err == nil {
			s.Pricing = SuggestPrices(comps, "BRL")
		} else {
			log.Printf("⚠️  Comparable search failed for session %s: %v", id, err)
		}
	}

	var schema []CategoryAttribute
	if s.CategoryID != "" {
		if sc, err := o.market.GetCategoryAttributes(ctx, s.CategoryID); err == nil {
			schema = sc
		} else {
			log.Printf("⚠️  Attribute schema fetch failed for session %s: %v", id, err)
		}
	}

	draft := BuildDraft(s, schema, o.negotiator)

	vision, categoryID, pricing := s.Vision, s.CategoryID, s.Pricing
	committed, err := o.store.Update(func(doc *models.Document) error {
		cur, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		// A cancel that raced us wins: never revive the session
		if cur.Status != models.StatusAnalyzing {
			return errSkip
		}
		cur.Vision = vision
		cur.CategoryID = categoryID
		cur.Pricing = pricing
		cur.Draft = draft
		applyDraftStatus(cur, draft, doc.Settings.DialogMode)
		cur.UpdatedAt = o.clock.Now()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			log.Printf("❌ Failed to commit analysis for session %s: %v", id, err)
		}
		return
	}

	o.replyDraftState(committed.Sessions[id], schema, settings.DialogMode)
}

// applyDraftStatus moves the session to awaiting_confirmation when the
// draft is complete, or back to awaiting_user_info with the next question
func applyDraftStatus(s *models.Session, draft *models.ListingDraft, dialogMode string) {
	if draft.Ready() {
		s.Status = models.StatusAwaitingConfirmation
		s.Pending = nil
		return
	}
	s.Status = models.StatusAwaitingUserInfo
	if dialogMode == "guided" {
		s.Pending = NextPending(draft)
	} else {
		s.Pending = nil
	}
}

func (o *Orchestrator) replyDraftState(s *models.Session, schema []CategoryAttribute, dialogMode string) {
	if s == nil || s.Draft == nil {
		return
	}
	msg := formatDraftSummary(s)
	if s.Draft.Ready() {
		o.reply(s.GroupID, msg+"\n\n"+confirmPrompt())
		return
	}
	if dialogMode == "guided" && s.Pending != nil {
		o.reply(s.GroupID, msg+"\n\n"+questionFor(s.Pending, schema))
		return
	}
	o.reply(s.GroupID, msg+"\n\n"+formatGaps(s.Draft, schema))
}

// failAnalysis moves analyzing → error, guarded against a racing cancel
func (o *Orchestrator) failAnalysis(id, groupID, msg string) {
	_, err := o.store.Update(func(doc *models.Document) error {
		s, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		if s.Status != models.StatusAnalyzing {
			return errSkip
		}
		s.Status = models.StatusError
		s.Error = msg
		s.UpdatedAt = o.clock.Now()
		return nil
	})
	if err != nil && !errors.Is(err, errSkip) {
		log.Printf("❌ Failed to mark session %s errored: %v", id, err)
	}
	if err == nil {
		o.reply(groupID, "❌ "+msg+"\nEnvie *novo* para começar de novo")
	}
}

func (o *Orchestrator) loadPhotos(refs []models.PhotoRef) ([][]byte, error) {
	images := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

// ─── Commands ────────────────────────────────────────────────────────────────

func (o *Orchestrator) handleCommand(ev CommandEvent) {
	switch ev.Kind {
	case CmdNew:
		o.cmdNew(ev)
	case CmdCancel:
		o.cmdCancel(ev)
	case CmdReanalyze:
		o.cmdReanalyze(ev)
	case CmdConfirm:
		o.cmdConfirm(ev)
	case CmdConfig:
		o.cmdConfig(ev)
	case CmdStatus:
		o.cmdStatus(ev)
	}
}

func (o *Orchestrator) cmdNew(ev CommandEvent) {
	var cancelled string
	_, err := o.store.Update(func(doc *models.Document) error {
		scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
		if s := doc.ActiveSession(scope); s != nil {
			s.Status = models.StatusCancelled
			s.CollectUntil = nil
			s.UpdatedAt = o.clock.Now()
			cancelled = s.ID
		}
		ns := o.newSession(ev.GroupID, ev.SenderID)
		doc.Sessions[ns.ID] = ns
		return nil
	})
	if err != nil {
		log.Printf("❌ Failed to start new session: %v", err)
		return
	}
	if cancelled != "" {
		o.timers.Cancel(cancelled)
	}
	o.reply(ev.GroupID, "🆕 Nova sessão iniciada! Envie as fotos do produto")
}

func (o *Orchestrator) cmdCancel(ev CommandEvent) {
	var cancelled string
	_, err := o.store.Update(func(doc *models.Document) error {
		scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
		s := doc.ActiveSession(scope)
		if s == nil {
			return errSkip
		}
		s.Status = models.StatusCancelled
		s.CollectUntil = nil
		s.UpdatedAt = o.clock.Now()
		cancelled = s.ID
		return nil
	})
	if errors.Is(err, errSkip) {
		o.reply(ev.GroupID, "⚠️ Nenhuma sessão ativa para cancelar")
		return
	}
	if err != nil {
		log.Printf("❌ Failed to cancel session: %v", err)
		return
	}
	o.timers.Cancel(cancelled)
	o.reply(ev.GroupID, "🚫 Sessão cancelada. Envie fotos ou *novo* quando quiser recomeçar")
}

func (o *Orchestrator) cmdReanalyze(ev CommandEvent) {
	var id string
	_, err := o.store.Update(func(doc *models.Document) error {
		scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
		s := doc.ActiveSession(scope)
		if s == nil || len(s.Photos) == 0 {
			return errSkip
		}
		switch s.Status {
		case models.StatusCollectingPhotos, models.StatusAwaitingUserInfo, models.StatusAwaitingConfirmation:
		default:
			return errSkip
		}
		now := o.clock.Now()
		s.Status = models.StatusCollectingPhotos
		s.CollectUntil = &now
		s.UpdatedAt = now
		id = s.ID
		return nil
	})
	if errors.Is(err, errSkip) {
		o.reply(ev.GroupID, "⚠️ Nada para reanalisar agora")
		return
	}
	if err != nil {
		log.Printf("❌ Failed to reanalyze: %v", err)
		return
	}
	o.timers.Cancel(id)
	o.analysis.Submit(func() { o.runAnalysis(id) })
}

func (o *Orchestrator) cmdConfirm(ev CommandEvent) {
	var (
		id     string
		status models.SessionStatus
	)
	_, err := o.store.Update(func(doc *models.Document) error {
		scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
		s := doc.ActiveSession(scope)
		if s == nil {
			return errSkip
		}
		id = s.ID
		status = s.Status
		if s.Status != models.StatusAwaitingConfirmation {
			return errSkip
		}
		s.Status = models.StatusPublishing
		s.UpdatedAt = o.clock.Now()
		return nil
	})
	if errors.Is(err, errSkip) {
		switch status {
		case models.StatusAwaitingUserInfo:
			o.reply(ev.GroupID, "⚠️ Ainda faltam informações antes de publicar - veja as perguntas acima")
		case "":
			// Terminal sessions are not active: a repeated confirm can
			// never create a duplicate item
			o.reply(ev.GroupID, "⚠️ Nenhuma sessão aguardando confirmação")
		default:
			o.reply(ev.GroupID, "⚠️ A sessão não está pronta para publicar")
		}
		return
	}
	if err != nil {
		log.Printf("❌ Failed to confirm session: %v", err)
		return
	}

	o.reply(ev.GroupID, "🚀 Criando o anúncio pausado no Mercado Livre...")
	o.analysis.Submit(func() { o.runPublish(id) })
}

func (o *Orchestrator) cmdConfig(ev CommandEvent) {
	if len(ev.Args) < 2 {
		doc, err := o.store.Read()
		if err != nil {
			return
		}
		st := doc.Settings
		o.reply(ev.GroupID, fmt.Sprintf(
			"⚙️ Configurações:\n• dialog_mode=%s\n• session_scope=%s\n• collect_window_seconds=%d\n• max_photos=%d\nUse: config <chave> <valor>",
			st.DialogMode, st.SessionScope, st.CollectWindowSeconds, st.MaxPhotos))
		return
	}

	key := strings.ToLower(ev.Args[0])
	value := ev.Args[1]
	if !models.SettingKeys[key] {
		o.reply(ev.GroupID, "⚠️ Chave desconhecida ou protegida: "+key)
		return
	}

	_, err := o.store.Update(func(doc *models.Document) error {
		return applySetting(&doc.Settings, key, value)
	})
	if err != nil {
		o.reply(ev.GroupID, "⚠️ Valor inválido para "+key)
		return
	}
	o.reply(ev.GroupID, fmt.Sprintf("⚙️ %s atualizado para %s", key, value))
}

func applySetting(st *models.Settings, key, value string) error {
	switch key {
	case "dialog_mode":
		if value != "confirm" && value != "guided" {
			return fmt.Errorf("dialog_mode must be confirm or guided")
		}
		st.DialogMode = value
	case "session_scope":
		if value != "user" && value != "group" {
			return fmt.Errorf("session_scope must be user or group")
		}
		st.SessionScope = value
	case "collect_window_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 5 || n > 600 {
			return fmt.Errorf("collect_window_seconds must be 5-600")
		}
		st.CollectWindowSeconds = n
	case "max_photos":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 30 {
			return fmt.Errorf("max_photos must be 1-30")
		}
		st.MaxPhotos = n
	default:
		return fmt.Errorf("unknown setting %s", key)
	}
	return nil
}

func (o *Orchestrator) cmdStatus(ev CommandEvent) {
	doc, err := o.store.Read()
	if err != nil {
		return
	}
	scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
	s := doc.ActiveSession(scope)
	if s == nil {
		o.reply(ev.GroupID, "⚠️ Nenhuma sessão ativa. Envie fotos de um produto para começar")
		return
	}

	switch s.Status {
	case models.StatusCollectingPhotos:
		o.reply(ev.GroupID, fmt.Sprintf("📸 Coletando fotos (%d até agora)", len(s.Photos)))
	case models.StatusAnalyzing:
		o.reply(ev.GroupID, "🔎 Analisando as fotos...")
	case models.StatusPublishing:
		o.reply(ev.GroupID, "🚀 Publicando o anúncio...")
	default:
		if s.Draft != nil {
			o.replyDraftState(s, nil, doc.Settings.DialogMode)
		}
	}
}

// ─── Free text / negotiation ─────────────────────────────────────────────────

func (o *Orchestrator) handleText(ev TextEvent) {
	doc, err := o.store.Read()
	if err != nil {
		log.Printf("❌ Failed to read state: %v", err)
		return
	}
	scope := models.ScopeKey(doc.Settings.SessionScope, ev.GroupID, ev.SenderID)
	s := doc.ActiveSession(scope)
	if s == nil {
		// Unaddressed chatter in a group; stay silent
		return
	}

	switch s.Status {
	case models.StatusAwaitingUserInfo, models.StatusAwaitingConfirmation:
		o.applyUserInput(s, ev.Body, doc.Settings.DialogMode)
	case models.StatusCollectingPhotos:
		if len(s.Photos) > 0 {
			o.reply(ev.GroupID, "📸 Ainda coletando fotos - já analiso e volto com perguntas")
		}
	case models.StatusAnalyzing:
		o.reply(ev.GroupID, "🔎 Análise em andamento, um momento...")
	case models.StatusPublishing:
		o.reply(ev.GroupID, "🚀 Publicação em andamento...")
	}
}

// applyUserInput merges key=value overrides (or a guided answer) into the
// session and recomputes the draft from scratch
func (o *Orchestrator) applyUserInput(s *models.Session, body, dialogMode string) {
	inputs := ParseOverrides(body)
	if len(inputs) == 0 {
		if s.Pending == nil {
			o.reply(s.GroupID, "ℹ️ Envie ajustes como chave=valor (ex: preco=1200), ou *confirmar* quando o resumo estiver pronto")
			return
		}
		// Guided mode: the whole message answers the pending question
		inputs = map[string]string{pendingInputKey(s.Pending): strings.TrimSpace(body)}
	}

	// Prefetch the attribute schema outside the store actor
	category := s.CategoryID
	for key, value := range inputs {
		if reservedInputKeys[strings.ToLower(key)] == "category" {
			category = value
		}
	}
	var schema []CategoryAttribute
	if category != "" {
		if sc, err := o.market.GetCategoryAttributes(context.Background(), category); err == nil {
			schema = sc
		} else {
			log.Printf("⚠️  Attribute schema fetch failed for category %s: %v", category, err)
		}
	}

	id := s.ID
	committed, err := o.store.Update(func(doc *models.Document) error {
		cur, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		if cur.Status != models.StatusAwaitingUserInfo && cur.Status != models.StatusAwaitingConfirmation {
			return errSkip
		}
		for key, value := range inputs {
			cur.SetInput(key, value)
		}
		draft := BuildDraft(cur, schema, o.negotiator)
		cur.Draft = draft
		cur.CategoryID = draft.CategoryID
		applyDraftStatus(cur, draft, doc.Settings.DialogMode)
		cur.UpdatedAt = o.clock.Now()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			log.Printf("❌ Failed to apply user input: %v", err)
		}
		return
	}

	o.replyDraftState(committed.Sessions[id], schema, dialogMode)
}

// pendingInputKey maps the guided cursor to the user-input key it fills
func pendingInputKey(p *models.PendingField) string {
	switch p.Kind {
	case models.PendingCategory:
		return "categoria"
	case models.PendingCondition:
		return "condicao"
	case models.PendingPrice:
		return "preco"
	case models.PendingTitle:
		return "titulo"
	case models.PendingAttribute:
		return p.AttributeID
	}
	return ""
}

// ─── Recovery ────────────────────────────────────────────────────────────────

// Recover rebuilds timers after a restart: collecting sessions get their
// debounce rescheduled from the persisted deadline, and sessions stuck in
// analyzing past the staleness threshold are sent back to collecting with
// an immediate deadline so the analysis reruns.
func (o *Orchestrator) Recover() error {
	doc, err := o.store.Read()
	if err != nil {
		return err
	}

	now := o.clock.Now()
	recovered := 0

	for id, s := range doc.Sessions {
		switch s.Status {
		case models.StatusCollectingPhotos:
			if len(s.Photos) == 0 || s.CollectUntil == nil {
				continue
			}
			delay := s.CollectUntil.Sub(now)
			if delay < 0 {
				delay = 0
			}
			sid := id
			o.timers.Schedule(sid, delay, func() {
				o.analysis.Submit(func() { o.runAnalysis(sid) })
			})
			recovered++

		case models.StatusAnalyzing:
			if now.Sub(s.UpdatedAt) < o.staleAfter {
				continue
			}
			sid := id
			_, err := o.store.Update(func(doc *models.Document) error {
				cur, ok := doc.Sessions[sid]
				if !ok || cur.Status != models.StatusAnalyzing {
					return errSkip
				}
				deadline := o.clock.Now()
				cur.Status = models.StatusCollectingPhotos
				cur.CollectUntil = &deadline
				cur.UpdatedAt = deadline
				return nil
			})
			if err != nil && !errors.Is(err, errSkip) {
				return err
			}
			if err == nil {
				o.timers.Schedule(sid, 0, func() {
					o.analysis.Submit(func() { o.runAnalysis(sid) })
				})
				recovered++
			}
		}
	}

	if recovered > 0 {
		log.Printf("🔄 Recovered %d in-flight sessions after restart", recovered)
	}
	return nil
}
