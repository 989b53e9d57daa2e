package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/listafacil/listafacil-backend/internal/models"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// ErrReauthRequired means the refresh token is gone or rejected and a human
// must run the OAuth authorization again
var ErrReauthRequired = errors.New("marketplace authorization expired - reauthorize with 'ml-auth' and restart")

// tokenExpiryMargin refreshes slightly early so a token never dies mid-call
const tokenExpiryMargin = 60 * time.Second

// maxCreateAttempts bounds the validation/repair retry loop
const maxCreateAttempts = 3

// MercadoLivreConfig configures the client; zero fields fall back to the
// production API and a default HTTP client
type MercadoLivreConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	SiteID       string
	HTTPClient   *http.Client
}

// MercadoLivre wraps the marketplace REST API with OAuth token lifecycle
// (single-flight refresh) and the create-item repair loop
type MercadoLivre struct {
	client       *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	siteID       string
	store        storage.Store
	negotiator   *AttributeNegotiator
	refreshGroup singleflight.Group
}

// NewMercadoLivre creates a client from environment variables
func NewMercadoLivre(store storage.Store) (*MercadoLivre, error) {
	cfg := MercadoLivreConfig{
		ClientID:     envOr("ML_CLIENT_ID", ""),
		ClientSecret: envOr("ML_CLIENT_SECRET", ""),
		SiteID:       envOr("ML_SITE_ID", "MLB"),
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("missing ML_CLIENT_ID / ML_CLIENT_SECRET in environment variables")
	}
	return NewMercadoLivreWithConfig(cfg, store), nil
}

// NewMercadoLivreWithConfig creates a client with explicit configuration
func NewMercadoLivreWithConfig(cfg MercadoLivreConfig, store storage.Store) *MercadoLivre {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadolibre.com"
	}
	if cfg.SiteID == "" {
		cfg.SiteID = "MLB"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &MercadoLivre{
		client:       cfg.HTTPClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		siteID:       cfg.SiteID,
		store:        store,
		negotiator:   NewAttributeNegotiator(),
	}
}

// ─── Token lifecycle ─────────────────────────────────────────────────────────

// AccessToken returns a valid access token, refreshing lazily when the
// current one is inside the expiry margin. Concurrent callers share one
// in-flight refresh: ML refresh tokens are single-use, so a duplicate
// refresh would invalidate the pair the other caller depends on.
func (m *MercadoLivre) AccessToken(ctx context.Context) (string, error) {
	doc, err := m.store.Read()
	if err != nil {
		return "", err
	}
	if doc.Tokens == nil || doc.Tokens.RefreshToken == "" {
		return "", ErrReauthRequired
	}
	if !doc.Tokens.ExpiredWithin(tokenExpiryMargin, time.Now()) {
		return doc.Tokens.AccessToken, nil
	}

	token, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *MercadoLivre) refresh(ctx context.Context) (string, error) {
	// Re-read inside the flight: a previous caller may have refreshed
	// between our staleness check and winning the singleflight slot
	doc, err := m.store.Read()
	if err != nil {
		return "", err
	}
	if doc.Tokens == nil || doc.Tokens.RefreshToken == "" {
		return "", ErrReauthRequired
	}
	if !doc.Tokens.ExpiredWithin(tokenExpiryMargin, time.Now()) {
		return doc.Tokens.AccessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("refresh_token", doc.Tokens.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Error == "invalid_grant" || resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			log.Printf("❌ Refresh token rejected (%d): %s", resp.StatusCode, apiErr.Error)
			return "", ErrReauthRequired
		}
		return "", fmt.Errorf("token refresh failed: status %d: %s", resp.StatusCode, string(body))
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("token refresh failed: bad response: %w", err)
	}

	tokens := &models.MLTokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	// Persist before handing the token to anyone: the old refresh token
	// is already burned
	if _, err := m.store.Update(func(doc *models.Document) error {
		doc.Tokens = tokens
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	log.Println("✅ Marketplace token refreshed")
	return tokens.AccessToken, nil
}

// ─── API error shape ─────────────────────────────────────────────────────────

// APICause is one entry of a structured marketplace validation error
type APICause struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	References []string `json:"references"`
}

// APIError is a non-2xx marketplace response
type APIError struct {
	StatusCode int        `json:"status"`
	Code       string     `json:"error"`
	Message    string     `json:"message"`
	Cause      []APICause `json:"cause"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

var bracketedToken = regexp.MustCompile(`\[([A-Z][A-Z0-9_]+)\]`)

// OffendingAttributes extracts attribute identifiers from both the
// structured cause references and bracketed tokens inside free-text messages
func (e *APIError) OffendingAttributes() []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, c := range e.Cause {
		for _, ref := range c.References {
			add(strings.TrimPrefix(ref, "item.attributes."))
		}
		for _, match := range bracketedToken.FindAllStringSubmatch(c.Message, -1) {
			add(match[1])
		}
	}
	for _, match := range bracketedToken.FindAllStringSubmatch(e.Message, -1) {
		add(match[1])
	}
	return ids
}

// ─── REST operations ─────────────────────────────────────────────────────────

// ItemAttribute is one attribute on an item payload
type ItemAttribute struct {
	ID        string `json:"id"`
	ValueID   string `json:"value_id,omitempty"`
	ValueName string `json:"value_name,omitempty"`
}

// ItemPicture references an uploaded picture by id
type ItemPicture struct {
	ID string `json:"id"`
}

// ItemPayload is the create/validate item request body. Status is always
// "paused": items are never created active.
type ItemPayload struct {
	Title             string          `json:"title"`
	CategoryID        string          `json:"category_id"`
	Price             float64         `json:"price"`
	CurrencyID        string          `json:"currency_id"`
	AvailableQuantity int             `json:"available_quantity"`
	BuyingMode        string          `json:"buying_mode"`
	ListingTypeID     string          `json:"listing_type_id"`
	Condition         string          `json:"condition"`
	Status            string          `json:"status"`
	Pictures          []ItemPicture   `json:"pictures,omitempty"`
	Attributes        []ItemAttribute `json:"attributes,omitempty"`
}

// CreatedItem is the relevant slice of a create-item response
type CreatedItem struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Permalink string `json:"permalink"`
}

// PredictCategory asks the domain-discovery endpoint for the best category
func (m *MercadoLivre) PredictCategory(ctx context.Context, title string) (string, error) {
	var out []struct {
		CategoryID string `json:"category_id"`
	}
	path := fmt.Sprintf("/sites/%s/domain_discovery/search?limit=1&q=%s", m.siteID, url.QueryEscape(title))
	if err := m.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if len(out) == 0 || out[0].CategoryID == "" {
		return "", fmt.Errorf("no category predicted for %q", title)
	}
	return out[0].CategoryID, nil
}

// SearchComparables finds similar listings to use as price references
func (m *MercadoLivre) SearchComparables(ctx context.Context, query, categoryID string) ([]models.Comparable, error) {
	var out struct {
		Results []struct {
			Price      float64 `json:"price"`
			CurrencyID string  `json:"currency_id"`
			Condition  string  `json:"condition"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/sites/%s/search?limit=50&q=%s", m.siteID, url.QueryEscape(query))
	if categoryID != "" {
		path += "&category=" + url.QueryEscape(categoryID)
	}
	if err := m.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	comps := make([]models.Comparable, 0, len(out.Results))
	for _, r := range out.Results {
		comps = append(comps, models.Comparable{
			Price:     r.Price,
			Currency:  r.CurrencyID,
			Condition: r.Condition,
		})
	}
	return comps, nil
}

// GetCategoryAttributes returns the required attributes of a category
func (m *MercadoLivre) GetCategoryAttributes(ctx context.Context, categoryID string) ([]CategoryAttribute, error) {
	var out []struct {
		ID     string            `json:"id"`
		Name   string            `json:"name"`
		Values []AttributeOption `json:"values"`
		Tags   map[string]bool   `json:"tags"`
	}
	if err := m.doJSON(ctx, http.MethodGet, "/categories/"+url.PathEscape(categoryID)+"/attributes", nil, &out); err != nil {
		return nil, err
	}

	var required []CategoryAttribute
	for _, a := range out {
		if a.Tags["required"] || a.Tags["catalog_required"] {
			required = append(required, CategoryAttribute{ID: a.ID, Name: a.Name, Values: a.Values})
		}
	}
	return required, nil
}

// UploadPicture uploads raw image bytes and returns the picture id
func (m *MercadoLivre) UploadPicture(ctx context.Context, data []byte, mimeType string) (string, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer, err := newPictureForm(&body, data, mimeType)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/pictures/items/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("picture upload failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, respBody)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("picture upload failed: bad response: %w", err)
	}
	return out.ID, nil
}

// ValidateItem dry-runs the payload against the marketplace validator
func (m *MercadoLivre) ValidateItem(ctx context.Context, payload *ItemPayload) error {
	return m.doJSON(ctx, http.MethodPost, "/items/validate", payload, nil)
}

// CreateItem creates the item. The payload status is forced to "paused"
// so a listing can never go live without human review.
func (m *MercadoLivre) CreateItem(ctx context.Context, payload *ItemPayload) (*CreatedItem, error) {
	payload.Status = "paused"
	var out CreatedItem
	if err := m.doJSON(ctx, http.MethodPost, "/items", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RepairContext carries the evidence the repair loop may draw on
type RepairContext struct {
	Schema    []CategoryAttribute
	Condition string
	Facts     models.ProductFacts
	Overrides map[string]string
}

// CreateItemWithRepair runs the bounded validation/repair loop: on a
// structured validation error it feeds the offending attribute ids back
// into the negotiator, rebuilds the payload and retries.
func (m *MercadoLivre) CreateItemWithRepair(
	ctx context.Context,
	payload *ItemPayload,
	schema []CategoryAttribute,
	condition string,
	facts models.ProductFacts,
	overrides map[string]string,
) (*CreatedItem, error) {
	rc := RepairContext{Schema: schema, Condition: condition, Facts: facts, Overrides: overrides}

	var item *CreatedItem
	err := m.withRepair(ctx, "create", rc, payload, func() error {
		created, err := m.CreateItem(ctx, payload)
		if err != nil {
			return err
		}
		item = created
		return nil
	})
	return item, err
}

// ValidateItemWithRepair dry-runs the payload, repairing rejected
// attributes the same way the create loop does
func (m *MercadoLivre) ValidateItemWithRepair(ctx context.Context, payload *ItemPayload, rc RepairContext) error {
	return m.withRepair(ctx, "validate", rc, payload, func() error {
		return m.ValidateItem(ctx, payload)
	})
}

// withRepair runs op up to maxCreateAttempts times, repairing the payload
// between attempts from the offending attribute ids of each rejection
func (m *MercadoLivre) withRepair(ctx context.Context, name string, rc RepairContext, payload *ItemPayload, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		offending := apiErr.OffendingAttributes()
		if len(offending) == 0 {
			return err
		}

		log.Printf("🔧 %s rejected (attempt %d/%d), repairing attributes: %v",
			name, attempt, maxCreateAttempts, offending)

		if m.repairPayload(payload, offending, rc) == 0 {
			return fmt.Errorf("%s rejected, no repair possible for attributes %v: %w", name, offending, err)
		}
	}

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) {
		return fmt.Errorf("%s failed after %d attempts, check attributes %v: %w",
			name, maxCreateAttempts, apiErr.OffendingAttributes(), lastErr)
	}
	return lastErr
}

// repairPayload asks the negotiator for each offending attribute and
// returns how many it could fill
func (m *MercadoLivre) repairPayload(payload *ItemPayload, offending []string, rc RepairContext) int {
	repaired := 0
	for _, id := range offending {
		attr, ok := findAttribute(rc.Schema, id)
		if !ok {
			attr = CategoryAttribute{ID: id}
		}
		candidate := m.negotiator.candidateFor(attr, rc.Condition, rc.Facts, rc.Overrides)
		filled, ok := m.negotiator.Fill(attr, candidate)
		if !ok {
			continue
		}
		setPayloadAttribute(payload, ItemAttribute{
			ID:        filled.ID,
			ValueID:   filled.ValueID,
			ValueName: filled.ValueName,
		})
		repaired++
	}
	return repaired
}

// SetDescription sets the item's plain-text description
func (m *MercadoLivre) SetDescription(ctx context.Context, itemID, text string) error {
	body := map[string]string{"plain_text": text}
	err := m.doJSON(ctx, http.MethodPut, "/items/"+url.PathEscape(itemID)+"/description", body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		// No description resource yet: create instead of replace
		return m.doJSON(ctx, http.MethodPost, "/items/"+url.PathEscape(itemID)+"/description", body, nil)
	}
	return err
}

// GetDescription fetches the marketplace-side description, which ML may
// have generated or normalized on create
func (m *MercadoLivre) GetDescription(ctx context.Context, itemID string) (string, error) {
	var out struct {
		PlainText string `json:"plain_text"`
	}
	err := m.doJSON(ctx, http.MethodGet, "/items/"+url.PathEscape(itemID)+"/description", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.PlainText, nil
}

// PauseItem explicitly (re)confirms the paused state
func (m *MercadoLivre) PauseItem(ctx context.Context, itemID string) error {
	body := map[string]string{"status": "paused"}
	return m.doJSON(ctx, http.MethodPut, "/items/"+url.PathEscape(itemID), body, nil)
}

// ─── Transport ───────────────────────────────────────────────────────────────

func (m *MercadoLivre) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("marketplace response parse failed: %w", err)
		}
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.StatusCode = status
	return apiErr
}

// newPictureForm writes a multipart body with one "file" part and returns
// the content type to send with it
func newPictureForm(buf *bytes.Buffer, data []byte, mimeType string) (string, error) {
	writer := multipart.NewWriter(buf)

	ext := ".jpg"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	part, err := writer.CreateFormFile("file", "photo"+ext)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.FormDataContentType(), nil
}

func findAttribute(schema []CategoryAttribute, id string) (CategoryAttribute, bool) {
	for _, a := range schema {
		if a.ID == id {
			return a, true
		}
	}
	return CategoryAttribute{}, false
}

func setPayloadAttribute(payload *ItemPayload, attr ItemAttribute) {
	for i := range payload.Attributes {
		if payload.Attributes[i].ID == attr.ID {
			payload.Attributes[i] = attr
			return
		}
	}
	payload.Attributes = append(payload.Attributes, attr)
}
