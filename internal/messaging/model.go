package messaging

import "time"

// Conversation is the single thread between one couple and one vendor.
type Conversation struct {
	ID            string     `gorm:"column:id;primaryKey;size:64;not null"`
	CoupleID      string     `gorm:"column:couple_id;size:190;not null;uniqueIndex:idx_conversations_pair,priority:1"`
	VendorID      string     `gorm:"column:vendor_id;size:190;not null;uniqueIndex:idx_conversations_pair,priority:2;index"`
	LastMessageAt *time.Time `gorm:"column:last_message_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userID is the couple or the vendor of the thread.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.CoupleID || userID == c.VendorID)
}

// OtherParticipant returns the counterpart of userID, or "" when userID is not a participant.
func (c Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.CoupleID:
		return c.VendorID
	case c.VendorID:
		return c.CoupleID
	default:
		return ""
	}
}

// Message is an immutable chat entry.
type Message struct {
	ID             string    `gorm:"column:id;primaryKey;size:64;not null"`
	ConversationID string    `gorm:"column:conversation_id;size:64;not null;index:idx_messages_conversation_created,priority:1"`
	SenderID       string    `gorm:"column:sender_id;size:190;not null"`
	Body           string    `gorm:"column:body;type:text;not null"`
	QuoteRef       *string   `gorm:"column:quote_ref;size:64;index"`
	IsRead         bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_messages_conversation_created,priority:2"`
}

func (Message) TableName() string {
	return "messages"
}

// ConversationLink is the in-app deep link to a thread.
func ConversationLink(conversationID string) string {
	return "/messages?conversation=" + conversationID
}
