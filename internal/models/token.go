package models

// TokenPair as issued by the auth server. The access token lives only
// in process memory; the refresh token is the single durable secret.
type TokenPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}
