package auth

// Capabilities is the caller's permission set consumed by the decision
// engine. The engine never looks at the user beyond these flags.
type Capabilities struct {
	CanSearchLocal      bool `json:"can_search_local"`
	CanSearchInternet   bool `json:"can_search_internet"`
	CanAccessRestricted bool `json:"can_access_restricted"`
	CanUploadDocuments  bool `json:"can_upload_documents"`
}

// User identifies an authenticated caller.
type User struct {
	ID           string       `json:"user_id"`
	Username     string       `json:"username"`
	Role         string       `json:"role"`
	Capabilities Capabilities `json:"permissions"`
}

// Registry resolves tokens and credentials to users. The demo setup ships a
// static user set; token issuance is out of scope, the token is the username.
type Registry struct {
	users map[string]User
}

// NewRegistry returns a registry with the three built-in demo users.
func NewRegistry() *Registry {
	return &Registry{users: map[string]User{
		"admin": {
			ID:       "user_1",
			Username: "admin",
			Role:     "admin",
			Capabilities: Capabilities{
				CanSearchLocal:      true,
				CanSearchInternet:   true,
				CanAccessRestricted: true,
				CanUploadDocuments:  true,
			},
		},
		"local_user": {
			ID:       "user_2",
			Username: "local_user",
			Role:     "local_only",
			Capabilities: Capabilities{
				CanSearchLocal: true,
			},
		},
		"hybrid_user": {
			ID:       "user_3",
			Username: "hybrid_user",
			Role:     "hybrid",
			Capabilities: Capabilities{
				CanSearchLocal:    true,
				CanSearchInternet: true,
			},
		},
	}}
}

// Authenticate validates credentials. Any password is accepted for known
// usernames; this mirrors the demo login flow.
func (r *Registry) Authenticate(username, password string) (User, bool) {
	u, ok := r.users[username]
	return u, ok
}

// UserByToken resolves a bearer token to a user.
func (r *Registry) UserByToken(token string) (User, bool) {
	u, ok := r.users[token]
	return u, ok
}
