package models

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// User is an identity provider profile. Status is owned locally by the
// presence registry and is never sent back to the provider.
type User struct {
	ID      string `json:"user_id"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	Status  Status `json:"status,omitempty"`
}

type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	ExpiresIn   int    `json:"expires_in"`
}

func (t AccessToken) Empty() bool {
	return t.AccessToken == "" && t.TokenType == "" && t.Scope == "" && t.ExpiresIn == 0
}

// AuthorizationHeader renders the token the way the provider expects it back.
func (t AccessToken) AuthorizationHeader() string {
	return t.TokenType + " " + t.AccessToken
}

type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
}

type Message struct {
	Sender   User   `json:"sender"`
	Receiver User   `json:"receiver"`
	Content  string `json:"content"`
}

type UserStatus struct {
	UserID string `json:"user_id"`
	Status Status `json:"status"`
}

// Caller is the authenticated identity bound to one transport connection.
type Caller struct {
	UserID       string
	ConnectionID string
}
