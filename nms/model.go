package nms

// ThreadKind distinguishes the addressable conversation contexts.
type ThreadKind string

const (
	ThreadDirect    ThreadKind = "direct"
	ThreadBroadcast ThreadKind = "broadcast"
	ThreadGroup     ThreadKind = "group"
)

// ThreadKey identifies a thread: the unit of subscription and unread
// counting.
type ThreadKey struct {
	Kind ThreadKind `json:"kind"`
	ID   string     `json:"id"`
}

// String returns the canonical store/map key form: d:<id>, b:<id>, g:<id>.
func (k ThreadKey) String() string {
	switch k.Kind {
	case ThreadDirect:
		return "d:" + k.ID
	case ThreadBroadcast:
		return "b:" + k.ID
	case ThreadGroup:
		return "g:" + k.ID
	default:
		return ""
	}
}

// IsZero reports whether the key names no thread.
func (k ThreadKey) IsZero() bool {
	return k.Kind == "" || (k.Kind != ThreadBroadcast && k.ID == "")
}

// Message is a single chat message. Timestamps are epoch milliseconds.
// A message is never mutated except to add delivery/read timestamps, and
// ReadAt is set only when DeliveredAt already is.
type Message struct {
	ID          string    `json:"id"`
	Thread      ThreadKey `json:"thread"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	CreatedAt   int64     `json:"created_at"`
	DeliveredAt int64     `json:"delivered_at,omitempty"`
	ReadAt      int64     `json:"read_at,omitempty"`
}

// Delivered reports whether the message reached its recipient.
func (m *Message) Delivered() bool { return m.DeliveredAt != 0 }

// Read reports whether the recipient's thread view was opened after arrival.
func (m *Message) Read() bool { return m.ReadAt != 0 }

// PresenceEntry describes one currently-online identity.
type PresenceEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Session is the access/refresh token pair. It is owned exclusively by the
// SessionGuardian and persisted as a blob in the durable store.
type Session struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // epoch ms
}
