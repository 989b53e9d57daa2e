package models

// Document is the entire durable state: every session, the settings and
// the marketplace token pair, serialized as one JSON document.
type Document struct {
	Sessions map[string]*Session `json:"sessions"`
	Settings Settings            `json:"settings"`
	Tokens   *MLTokens           `json:"tokens,omitempty"`
}

// NewDocument returns an empty document with defaults
func NewDocument() *Document {
	return &Document{
		Sessions: make(map[string]*Session),
		Settings: DefaultSettings(),
	}
}

// ActiveSession finds the non-terminal session owned by the scope key, if any
func (d *Document) ActiveSession(scopeKey string) *Session {
	for _, s := range d.Sessions {
		if !s.Status.IsTerminal() && s.ScopeKey(d.Settings.SessionScope) == scopeKey {
			return s
		}
	}
	return nil
}
