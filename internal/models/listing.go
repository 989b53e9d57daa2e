package models

import "time"

// DraftAttribute is one marketplace attribute on the draft.
// ValueID is set when the value matched an enumerated option;
// AutoFilled marks values the negotiator guessed from vision evidence.
type DraftAttribute struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	ValueID    string `json:"value_id,omitempty"`
	ValueName  string `json:"value_name,omitempty"`
	AutoFilled bool   `json:"auto_filled,omitempty"`
}

// ListingDraft is the always-fresh candidate listing. It is recomputed
// from vision output + pricing + user input on every change, never patched.
type ListingDraft struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	CurrencyID  string  `json:"currency_id"`
	CategoryID  string  `json:"category_id"`
	Condition   string  `json:"condition"` // "novo" or "usado"

	Attributes []DraftAttribute `json:"attributes"`

	// What still blocks publishing
	MissingFields     []string `json:"missing_fields,omitempty"`     // category, condition, price, title
	MissingAttributes []string `json:"missing_attributes,omitempty"` // required attribute ids
}

// Ready reports whether the draft can be published as-is
func (d *ListingDraft) Ready() bool {
	return len(d.MissingFields) == 0 && len(d.MissingAttributes) == 0
}

// PublishedItem records the marketplace item created for a session
type PublishedItem struct {
	ItemID    string    `json:"item_id"`
	Permalink string    `json:"permalink,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
