package domain

// Principal is the identity proven by a verified access token.
type Principal struct {
	UserID string
	Roles  []string
	Scopes []string
	// Claims holds every claim of the verified token.
	Claims map[string]any
}

