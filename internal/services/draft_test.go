package services

import (
	"testing"

	"github.com/listafacil/listafacil-backend/internal/models"
)

func draftSession() *models.Session {
	return &models.Session{
		ID:         "s1",
		CategoryID: "MLB1234",
		Vision: &models.VisionResult{
			Facts: models.ProductFacts{Brand: "Samsung", Condition: "seminovo"},
			Title: "Micro-ondas Samsung 30L",
		},
		Pricing: &models.PriceAnalysis{Currency: "BRL", SuggestedFast: 1000, SuggestedFair: 1200, SuggestedProfit: 1400},
	}
}

func TestBuildDraftSeedsFromVisionAndPricing(t *testing.T) {
	s := draftSession()
	draft := BuildDraft(s, nil, NewAttributeNegotiator())

	if draft.Title != "Micro-ondas Samsung 30L" {
		t.Errorf("expected vision title, got %q", draft.Title)
	}
	if draft.Price != 1200 {
		t.Errorf("expected suggested fair price, got %v", draft.Price)
	}
	if draft.Condition != "usado" {
		t.Errorf("expected seminovo canonicalized to usado, got %q", draft.Condition)
	}
	if !draft.Ready() {
		t.Errorf("expected complete draft, missing %v / %v", draft.MissingFields, draft.MissingAttributes)
	}
}

func TestBuildDraftUserOverridesWin(t *testing.T) {
	s := draftSession()
	s.SetInput("preco", "R$ 1.350,00")
	s.SetInput("titulo", "Micro-ondas Samsung 30L Inox")
	s.SetInput("condicao", "novo")

	draft := BuildDraft(s, nil, NewAttributeNegotiator())

	if draft.Price != 1350 {
		t.Errorf("expected overridden price 1350, got %v", draft.Price)
	}
	if draft.Title != "Micro-ondas Samsung 30L Inox" {
		t.Errorf("expected overridden title, got %q", draft.Title)
	}
	if draft.Condition != "novo" {
		t.Errorf("expected overridden condition, got %q", draft.Condition)
	}
}

func TestBuildDraftMissingFieldsOrder(t *testing.T) {
	s := &models.Session{ID: "s1"}
	draft := BuildDraft(s, nil, NewAttributeNegotiator())

	want := []string{"category", "condition", "price", "title"}
	if len(draft.MissingFields) != len(want) {
		t.Fatalf("expected %v missing, got %v", want, draft.MissingFields)
	}
	for i, field := range want {
		if draft.MissingFields[i] != field {
			t.Fatalf("expected missing fields %v, got %v", want, draft.MissingFields)
		}
	}

	if p := NextPending(draft); p == nil || p.Kind != models.PendingCategory {
		t.Fatalf("expected category asked first, got %+v", p)
	}
}

func TestBuildDraftIsRecomputedNotPatched(t *testing.T) {
	s := draftSession()
	first := BuildDraft(s, nil, NewAttributeNegotiator())

	// The stored draft must not leak into the recomputation
	s.Draft = first
	s.SetInput("preco", "900")
	second := BuildDraft(s, nil, NewAttributeNegotiator())

	if second.Price != 900 {
		t.Errorf("expected recomputed price 900, got %v", second.Price)
	}
	if first.Price != 1200 {
		t.Errorf("recomputation mutated the previous draft: %v", first.Price)
	}
}

func TestNextPendingAttributeAfterFields(t *testing.T) {
	draft := &models.ListingDraft{MissingAttributes: []string{"VOLTAGE", "CAPACITY"}}
	p := NextPending(draft)
	if p == nil || p.Kind != models.PendingAttribute || p.AttributeID != "VOLTAGE" {
		t.Fatalf("expected first missing attribute, got %+v", p)
	}

	if p := NextPending(&models.ListingDraft{}); p != nil {
		t.Fatalf("expected nil for complete draft, got %+v", p)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1200", 1200, true},
		{"1200.50", 1200.50, true},
		{"1.200,50", 1200.50, true},
		{"R$ 1.200,00", 1200, true},
		{"R$900", 900, true},
		{"caro", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parsePrice(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parsePrice(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
