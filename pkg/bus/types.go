package bus

// GroupID is the transport's opaque identifier for a chat group.
type GroupID string

// Group is one entry of a transport's group list.
type Group struct {
	ID   GroupID `json:"id"`
	Name string  `json:"name"`
}

// Target is a resolved group bound to one session generation. A Target
// from an earlier generation is stale and must not be used for sends.
type Target struct {
	Generation uint64  `json:"generation"`
	GroupID    GroupID `json:"group_id"`
}

type InboundMessage struct {
	Transport  string            `json:"transport"`
	Generation uint64            `json:"generation"`
	GroupID    GroupID           `json:"group_id"`
	SenderID   string            `json:"sender_id"`
	MessageID  string            `json:"message_id,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Target  Target `json:"target"`
	Content string `json:"content"`
}
