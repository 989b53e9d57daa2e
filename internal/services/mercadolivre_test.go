package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listafacil/listafacil-backend/internal/models"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

func newMLTestStore(t *testing.T, tokens *models.MLTokens) storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := storage.NewDocumentStore(storage.NewFilePersister(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(store.Close)

	if tokens != nil {
		if _, err := store.Update(func(doc *models.Document) error {
			doc.Tokens = tokens
			return nil
		}); err != nil {
			t.Fatalf("failed to seed tokens: %v", err)
		}
	}
	return store
}

func newMLClient(t *testing.T, serverURL string, store storage.Store) *MercadoLivre {
	t.Helper()
	return NewMercadoLivreWithConfig(MercadoLivreConfig{
		BaseURL:      serverURL,
		ClientID:     "client",
		ClientSecret: "secret",
		SiteID:       "MLB",
	}, store)
}

func TestAccessTokenSingleFlightRefresh(t *testing.T) {
	var refreshCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(&refreshCalls, 1)
		time.Sleep(100 * time.Millisecond) // keep the flight open so callers pile up
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "fresh-token",
			"refresh_token": "next-refresh",
			"expires_in":    21600,
		})
	}))
	defer server.Close()

	store := newMLTestStore(t, &models.MLTokens{
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	ml := newMLClient(t, server.URL, store)

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var start, wg sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			tokens[i], errs[i] = ml.AccessToken(context.Background())
		}(i)
	}
	start.Done()
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "fresh-token" {
			t.Errorf("caller %d got token %q, want fresh-token", i, tokens[i])
		}
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", n)
	}

	// The rotated pair must be persisted
	doc, _ := store.Read()
	if doc.Tokens.RefreshToken != "next-refresh" {
		t.Errorf("rotated refresh token not persisted: %q", doc.Tokens.RefreshToken)
	}
}

func TestAccessTokenValidSkipsRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer server.Close()

	store := newMLTestStore(t, &models.MLTokens{
		AccessToken:  "still-good",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	ml := newMLClient(t, server.URL, store)

	token, err := ml.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "still-good" {
		t.Errorf("expected cached token, got %q", token)
	}
}

func TestAccessTokenReauthRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","message":"refresh token expired"}`))
	}))
	defer server.Close()

	store := newMLTestStore(t, &models.MLTokens{
		AccessToken:  "stale",
		RefreshToken: "burned",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	ml := newMLClient(t, server.URL, store)

	_, err := ml.AccessToken(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Errorf("expected ErrReauthRequired, got %v", err)
	}

	// No tokens at all is also a reauth case, without any network call
	empty := newMLTestStore(t, nil)
	ml2 := newMLClient(t, server.URL, empty)
	if _, err := ml2.AccessToken(context.Background()); !errors.Is(err, ErrReauthRequired) {
		t.Errorf("expected ErrReauthRequired for missing tokens, got %v", err)
	}
}

func TestCreateItemWithRepairBrandFreeText(t *testing.T) {
	var createCalls int32
	var lastPayload ItemPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := atomic.AddInt32(&createCalls, 1)
		_ = json.NewDecoder(r.Body).Decode(&lastPayload)

		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{
				"error": "validation_error",
				"message": "item has errors",
				"cause": [{"code": "missing.required", "message": "Attribute [BRAND] is required", "references": ["item.attributes.BRAND"]}]
			}`))
			return
		}
		_ = json.NewEncoder(w).Encode(CreatedItem{ID: "MLB123", Status: "paused", Permalink: "https://example.com/MLB123"})
	}))
	defer server.Close()

	store := newMLTestStore(t, &models.MLTokens{
		AccessToken: "t", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	})
	ml := newMLClient(t, server.URL, store)

	// Category schema has BRAND with no enumerated values
	schema := []CategoryAttribute{{ID: "BRAND", Name: "Marca"}}
	facts := models.ProductFacts{Brand: "Samsung"}
	payload := &ItemPayload{Title: "Celular", CategoryID: "MLB1055", Price: 1200, CurrencyID: "BRL"}

	item, err := ml.CreateItemWithRepair(context.Background(), payload, schema, "usado", facts, nil)
	if err != nil {
		t.Fatalf("expected repaired create to succeed, got %v", err)
	}
	if item.ID != "MLB123" {
		t.Errorf("expected item MLB123, got %q", item.ID)
	}
	if n := atomic.LoadInt32(&createCalls); n != 2 {
		t.Errorf("expected 2 create calls (reject + retry), got %d", n)
	}

	found := false
	for _, a := range lastPayload.Attributes {
		if a.ID == "BRAND" {
			found = true
			if a.ValueName != "Samsung" || a.ValueID != "" {
				t.Errorf("expected free-text BRAND=Samsung, got %+v", a)
			}
		}
	}
	if !found {
		t.Error("retried payload is missing the repaired BRAND attribute")
	}
	if lastPayload.Status != "paused" {
		t.Errorf("item must be created paused, got status %q", lastPayload.Status)
	}
}

func TestCreateItemWithRepairGivesUpWithHints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"error": "validation_error",
			"message": "item has errors",
			"cause": [{"code": "missing.required", "message": "Attribute [VOLTAGE] is required", "references": []}]
		}`))
	}))
	defer server.Close()

	store := newMLTestStore(t, &models.MLTokens{
		AccessToken: "t", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	})
	ml := newMLClient(t, server.URL, store)

	// No schema entry and no evidence: nothing to repair with
	payload := &ItemPayload{Title: "Liquidificador", CategoryID: "MLB2", Price: 100, CurrencyID: "BRL"}
	_, err := ml.CreateItemWithRepair(context.Background(), payload, nil, "", models.ProductFacts{}, nil)
	if err == nil {
		t.Fatal("expected the repair loop to give up")
	}
	if !strings.Contains(err.Error(), "VOLTAGE") {
		t.Errorf("error should carry the offending attribute id as a hint: %v", err)
	}
}

func TestOffendingAttributesExtraction(t *testing.T) {
	apiErr := &APIError{
		StatusCode: 400,
		Message:    "Check [SIZE_GRID_ID] before listing",
		Cause: []APICause{
			{Code: "missing.required", Message: "Attribute [BRAND] is required", References: []string{"item.attributes.BRAND"}},
			{Code: "invalid", References: []string{"item.attributes.MODEL"}},
		},
	}

	got := apiErr.OffendingAttributes()
	want := []string{"BRAND", "MODEL", "SIZE_GRID_ID"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
