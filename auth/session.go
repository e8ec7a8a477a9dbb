package auth

var _ Session = &SessionObject{}

// SessionObject is the view of a validated token
type SessionObject struct {
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetRole() string {
	return s.Role
}

// GetSessionID returns the registry row id, empty for admin tokens
func (s *SessionObject) GetSessionID() string {
	return s.SessionID
}

func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToParseData
	}
	return &SessionObject{
		UserID:    claims.UserID(),
		Role:      claims.Role(),
		SessionID: claims.SessionID(),
	}, nil
}
