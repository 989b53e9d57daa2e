package services

// SendOptions carries optional delivery hints for an outbound message
type SendOptions struct {
	QuotedMessageID string
}

// Messenger delivers replies to a chat scope. Implementations may ignore
// options they cannot express.
type Messenger interface {
	Send(groupID, text string, opts *SendOptions) error
}
