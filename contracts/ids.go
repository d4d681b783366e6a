package contracts

import (
	"strings"

	"github.com/google/uuid"
)

// ReturnedPrefix marks archive keys of messages bounced by the destination
// broker so they never collide with forwarded messages.
const ReturnedPrefix = "returned-"

// NewMessageID returns a time-ordered identifier for messages that arrive
// without a message-id property.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return uuid.NewString()
	}
	return id.String()
}

// MessageID returns messageID when set, otherwise a fresh identifier.
func MessageID(messageID string) string {
	if messageID != "" {
		return messageID
	}
	return NewMessageID()
}

// ReturnedID returns the archive key for a returned message.
func ReturnedID(messageID string) string {
	return ReturnedPrefix + MessageID(messageID)
}

// IsReturnedID reports whether id was produced by ReturnedID.
func IsReturnedID(id string) bool {
	return strings.HasPrefix(id, ReturnedPrefix)
}
