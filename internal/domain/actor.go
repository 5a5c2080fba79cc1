package domain

import "time"

// ActorInfo is display metadata for an account in the network.
type ActorInfo struct {
	DID         string
	Handle      string
	DisplayName string
	AvatarURL   string
	CachedAt    time.Time
}

// Session is a user's authenticated session against their PDS.
type Session struct {
	UserID      string
	DID         string
	Handle      string
	AccessJWT   string
	RefreshJWT  string
	RefreshedAt time.Time
}
