package nms

import "encoding/json"

const (
	ProtocolVersion = 1

	inboundIdentify         = "identify"
	inboundSubscribeDevices = "subscribeDevices"
	inboundJoinGroup        = "joinGroup"

	outboundEvent = "event"
	outboundError = "error"

	eventPresenceOnline  = "presence:online"
	eventPresenceOffline = "presence:offline"
	eventPresenceList    = "presence:list"
	eventMessageNew      = "message:new"
	eventMessageStatus   = "message:status"
)

// Inbound represents the envelope from client to server.
type Inbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbound is the envelope server -> client. The Event field is the
// discriminant; payloads are decoded once, at the dispatcher boundary.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// IdentifyPayload announces the connecting identity.
type IdentifyPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Identity string `json:"identity"`
	ClientID string `json:"client_id,omitempty"`
}

// SubscribeDevicesPayload replaces the watched device set.
type SubscribeDevicesPayload struct {
	DeviceIDs []string `json:"deviceIds"`
}

// JoinGroupPayload subscribes to a group thread room.
type JoinGroupPayload struct {
	GroupID string `json:"groupId"`
}

// Error describes a protocol error.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
