package services

import (
	"strconv"
	"strings"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// reservedInputKeys are user-input keys that map to listing fields rather
// than category attributes. Portuguese spellings first, same as the chat.
var reservedInputKeys = map[string]string{
	"titulo":      "title",
	"title":       "title",
	"preco":       "price",
	"price":       "price",
	"condicao":    "condition",
	"condition":   "condition",
	"categoria":   "category",
	"category":    "category",
	"descricao":   "description",
	"description": "description",
}

// BuildDraft recomputes the listing draft from scratch: vision output +
// pricing + user overrides + the category's attribute requirements. It is
// never patched incrementally, so it can never reflect stale inputs.
func BuildDraft(s *models.Session, schema []CategoryAttribute, negotiator *AttributeNegotiator) *models.ListingDraft {
	draft := &models.ListingDraft{
		CurrencyID: "BRL",
		CategoryID: s.CategoryID,
	}

	var facts models.ProductFacts
	if s.Vision != nil {
		facts = s.Vision.Facts
		draft.Title = s.Vision.Title
		draft.Description = s.Vision.Description
	}
	draft.Condition = canonicalCondition(facts.Condition)
	if s.Pricing != nil {
		draft.Price = float64(s.Pricing.SuggestedFair)
	}

	attrOverrides := attributeOverrides(s.UserInput)
	for key, value := range s.UserInput {
		field, reserved := reservedInputKeys[strings.ToLower(key)]
		if !reserved {
			continue
		}
		switch field {
		case "title":
			draft.Title = value
		case "description":
			draft.Description = value
		case "condition":
			draft.Condition = canonicalCondition(value)
		case "category":
			draft.CategoryID = value
		case "price":
			if p, ok := parsePrice(value); ok {
				draft.Price = p
			}
		}
	}

	res := negotiator.Resolve(schema, draft.Condition, facts, attrOverrides)
	draft.Attributes = res.Attributes
	for _, gap := range res.Missing {
		draft.MissingAttributes = append(draft.MissingAttributes, gap.ID)
	}

	if draft.CategoryID == "" {
		draft.MissingFields = append(draft.MissingFields, "category")
	}
	if draft.Condition == "" {
		draft.MissingFields = append(draft.MissingFields, "condition")
	}
	if draft.Price <= 0 {
		draft.MissingFields = append(draft.MissingFields, "price")
	}
	if strings.TrimSpace(draft.Title) == "" {
		draft.MissingFields = append(draft.MissingFields, "title")
	}

	return draft
}

// NextPending picks the guided-dialog cursor for a draft, one field at a
// time in a fixed order. Returns nil when nothing is missing.
func NextPending(draft *models.ListingDraft) *models.PendingField {
	for _, field := range draft.MissingFields {
		switch field {
		case "category":
			return &models.PendingField{Kind: models.PendingCategory}
		case "condition":
			return &models.PendingField{Kind: models.PendingCondition}
		case "price":
			return &models.PendingField{Kind: models.PendingPrice}
		case "title":
			return &models.PendingField{Kind: models.PendingTitle}
		}
	}
	if len(draft.MissingAttributes) > 0 {
		return &models.PendingField{Kind: models.PendingAttribute, AttributeID: draft.MissingAttributes[0]}
	}
	return nil
}

// attributeOverrides filters user input down to the keys that address
// category attributes rather than listing fields
func attributeOverrides(input map[string]string) map[string]string {
	out := map[string]string{}
	for key, value := range input {
		if _, reserved := reservedInputKeys[strings.ToLower(key)]; !reserved {
			out[key] = value
		}
	}
	return out
}

// canonicalCondition maps free-text condition words onto the values the
// marketplace accepts; unknown words pass through for the negotiator
func canonicalCondition(s string) string {
	if s == "" {
		return ""
	}
	if canonical, ok := conditionSynonyms[Normalize(s)]; ok {
		return canonical
	}
	return s
}

// parsePrice accepts "1200", "1200.50" and the Brazilian "1.200,50"
func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}
