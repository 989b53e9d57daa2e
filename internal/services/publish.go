package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// conditionIDs maps the draft condition to the marketplace condition id
var conditionIDs = map[string]string{
	"novo":  "new",
	"usado": "used",
}

// runPublish drives a confirmed draft onto the marketplace. The session is
// already in publishing (claimed by the confirm transition). Before the item
// exists any failure aborts back to awaiting_confirmation; once create has
// succeeded the item id is persisted immediately and later failures only
// accumulate notes on a done session, which is never revived.
func (o *Orchestrator) runPublish(id string) {
	ctx := context.Background()

	doc, err := o.store.Read()
	if err != nil {
		log.Printf("❌ Failed to read state for publish: %v", err)
		return
	}
	s, ok := doc.Sessions[id]
	if !ok || s.Status != models.StatusPublishing || s.Draft == nil {
		return
	}
	draft := s.Draft

	// Pictures first: the create payload references uploaded picture ids
	pictures, err := o.uploadPhotos(ctx, s.Photos)
	if err != nil {
		o.abortPublish(id, s.GroupID, fmt.Sprintf("upload das fotos falhou: %v", err))
		return
	}

	payload := buildItemPayload(draft, pictures)
	rc := RepairContext{
		Condition: draft.Condition,
		Overrides: attributeOverrides(s.UserInput),
	}
	if s.Vision != nil {
		rc.Facts = s.Vision.Facts
	}
	if draft.CategoryID != "" {
		if schema, err := o.market.GetCategoryAttributes(ctx, draft.CategoryID); err == nil {
			rc.Schema = schema
		} else {
			log.Printf("⚠️  Attribute schema fetch failed before publish: %v", err)
		}
	}

	if err := o.market.ValidateItemWithRepair(ctx, payload, rc); err != nil {
		o.abortPublish(id, s.GroupID, publishErrorText(err))
		return
	}

	created, err := o.market.CreateItemWithRepair(ctx, payload, rc.Schema, rc.Condition, rc.Facts, rc.Overrides)
	if err != nil {
		o.abortPublish(id, s.GroupID, publishErrorText(err))
		return
	}

	// The item now exists: persist its id before anything else can fail,
	// so a crash here never leaves an orphan listing
	published := &models.PublishedItem{
		ItemID:    created.ID,
		Permalink: created.Permalink,
		CreatedAt: o.clock.Now(),
	}
	if _, err := o.store.Update(func(doc *models.Document) error {
		cur, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		cur.Published = published
		cur.UpdatedAt = o.clock.Now()
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		log.Printf("❌ Failed to persist item id %s: %v", created.ID, err)
	}

	// Everything past this point is best-effort: the item exists and the
	// session will end done regardless, with failures noted for the operator
	var notes []string

	if err := o.market.PauseItem(ctx, created.ID); err != nil {
		notes = append(notes, fmt.Sprintf("confirmação de pausa falhou: %v", err))
	}

	if draft.Description != "" {
		if err := o.setMergedDescription(ctx, created.ID, draft.Description); err != nil {
			notes = append(notes, fmt.Sprintf("descrição não foi aplicada: %v", err))
		}

		if err := o.market.PauseItem(ctx, created.ID); err != nil {
			notes = append(notes, fmt.Sprintf("anúncio pode estar ativo, pausa falhou: %v", err))
		}
	}

	if _, err := o.store.Update(func(doc *models.Document) error {
		cur, ok := doc.Sessions[id]
		if !ok {
			return errSkip
		}
		cur.Status = models.StatusDone
		cur.Error = strings.Join(notes, "; ")
		cur.UpdatedAt = o.clock.Now()
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		log.Printf("❌ Failed to finish session %s: %v", id, err)
	}

	msg := fmt.Sprintf("✅ Anúncio criado *pausado* no Mercado Livre!\n🆔 %s", created.ID)
	if created.Permalink != "" {
		msg += "\n🔗 " + created.Permalink
	}
	msg += "\nRevise e ative quando quiser"
	if len(notes) > 0 {
		msg += "\n⚠️ " + strings.Join(notes, "\n⚠️ ")
	}
	o.reply(s.GroupID, msg)
}

// abortPublish undoes a publish that failed before the item existed: the
// session returns to awaiting_confirmation so the user can fix and retry
func (o *Orchestrator) abortPublish(id, groupID, reason string) {
	_, err := o.store.Update(func(doc *models.Document) error {
		cur, ok := doc.Sessions[id]
		if !ok || cur.Status != models.StatusPublishing {
			return errSkip
		}
		cur.Status = models.StatusAwaitingConfirmation
		cur.UpdatedAt = o.clock.Now()
		return nil
	})
	if err != nil && !errors.Is(err, errSkip) {
		log.Printf("❌ Failed to roll back publish for session %s: %v", id, err)
	}
	o.reply(groupID, "❌ Publicação falhou: "+reason+"\nAjuste com chave=valor e envie *confirmar* de novo")
}

func (o *Orchestrator) uploadPhotos(ctx context.Context, refs []models.PhotoRef) ([]ItemPicture, error) {
	pictures := make([]ItemPicture, 0, len(refs))
	for _, ref := range refs {
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, err
		}
		pid, err := o.market.UploadPicture(ctx, data, ref.MimeType)
		if err != nil {
			return nil, err
		}
		pictures = append(pictures, ItemPicture{ID: pid})
	}
	return pictures, nil
}

// buildItemPayload maps a complete draft to the create-item request
func buildItemPayload(draft *models.ListingDraft, pictures []ItemPicture) *ItemPayload {
	condition := conditionIDs[draft.Condition]
	if condition == "" {
		condition = "not_specified"
	}

	attrs := make([]ItemAttribute, 0, len(draft.Attributes))
	for _, a := range draft.Attributes {
		attrs = append(attrs, ItemAttribute{ID: a.ID, ValueID: a.ValueID, ValueName: a.ValueName})
	}

	return &ItemPayload{
		Title:             draft.Title,
		CategoryID:        draft.CategoryID,
		Price:             draft.Price,
		CurrencyID:        draft.CurrencyID,
		AvailableQuantity: 1,
		BuyingMode:        "buy_it_now",
		ListingTypeID:     "gold_special",
		Condition:         condition,
		Status:            "paused",
		Pictures:          pictures,
		Attributes:        attrs,
	}
}

// setMergedDescription writes the draft description without clobbering
// anything the marketplace attached to the item on its own
func (o *Orchestrator) setMergedDescription(ctx context.Context, itemID, text string) error {
	existing, err := o.market.GetDescription(ctx, itemID)
	if err != nil {
		return err
	}
	return o.market.SetDescription(ctx, itemID, MergeDescriptions(existing, text))
}

// MergeDescriptions combines an existing item description with the draft
// one. Containment (after normalization) picks the richer text; otherwise
// both are kept, draft first.
func MergeDescriptions(existing, draft string) string {
	existing = strings.TrimSpace(existing)
	draft = strings.TrimSpace(draft)
	switch {
	case existing == "":
		return draft
	case draft == "":
		return existing
	}

	ne, nd := Normalize(existing), Normalize(draft)
	switch {
	case ne == nd:
		return draft
	case strings.Contains(ne, nd):
		return existing
	case strings.Contains(nd, ne):
		return draft
	}
	return draft + "\n\n" + existing
}

func publishErrorText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if ids := apiErr.OffendingAttributes(); len(ids) > 0 {
			return fmt.Sprintf("o Mercado Livre rejeitou os atributos %s - informe com chave=valor (ex: %s=...)",
				strings.Join(ids, ", "), strings.ToLower(ids[0]))
		}
		return apiErr.Message
	}
	if errors.Is(err, ErrReauthRequired) {
		return "a conexão com o Mercado Livre expirou, é preciso reautorizar o aplicativo"
	}
	return err.Error()
}
