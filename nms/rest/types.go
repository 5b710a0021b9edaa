package rest

// Authentication types

// LoginRequest is the request body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the request body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // epoch ms
}

// Messaging types

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	ThreadKind string `json:"thread_kind"`
	ThreadID   string `json:"thread_id,omitempty"`
	Text       string `json:"text"`
}

// MessageInfo is a message as returned by send and history endpoints.
type MessageInfo struct {
	ID          string `json:"id"`
	ThreadKind  string `json:"thread_kind"`
	ThreadID    string `json:"thread_id,omitempty"`
	SenderID    string `json:"sender_id"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"created_at"`
	DeliveredAt int64  `json:"delivered_at,omitempty"`
	ReadAt      int64  `json:"read_at,omitempty"`
}

// HistoryResponse contains a page of thread history.
type HistoryResponse struct {
	Messages []MessageInfo `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// Directory types

// UserInfo is one directory entry.
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
