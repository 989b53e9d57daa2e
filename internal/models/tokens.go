package models

import "time"

// MLTokens is the Mercado Livre OAuth token pair. One shared instance per
// process, persisted in the durable document; refresh tokens rotate on use.
type MLTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiredWithin reports whether the access token expires inside the margin
func (t *MLTokens) ExpiredWithin(margin time.Duration, now time.Time) bool {
	return !now.Add(margin).Before(t.ExpiresAt)
}
