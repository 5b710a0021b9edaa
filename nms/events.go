package nms

// PresenceEvent is emitted when a user comes online or goes offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
}

// PresenceListEvent is a full snapshot of the online set. Applying it
// replaces the tracked set entirely.
type PresenceListEvent struct {
	UserIDs []string `json:"userIds"`
}

// MessageEvent is emitted when a new message arrives on the transport.
type MessageEvent struct {
	Message Message `json:"message"`
}

// MessageStatusEvent advances a message's delivery/read state.
type MessageStatusEvent struct {
	ID          string `json:"id"`
	DeliveredAt int64  `json:"deliveredAt,omitempty"`
	ReadAt      int64  `json:"readAt,omitempty"`
}
