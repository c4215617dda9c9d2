package chat

import "encoding/json"

const (
	EventWelcome     = "welcome"
	EventChatMessage = "chatMessage"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type WelcomeData struct {
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef"`
}

// ChatMessageData is the outbound chat payload. Inbound frames carry only Text.
type ChatMessageData struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
