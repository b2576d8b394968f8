package notifications

import (
	"time"

	"gorm.io/datatypes"
)

// Type tags a notification with the event that produced it.
type Type string

const (
	TypeQuoteCreated       Type = "quote_created"
	TypeQuoteStatusUpdated Type = "quote_status_updated"
	TypeMessageReceived    Type = "message_received"
	TypeVendorPublished    Type = "vendor_published"
	TypeInviteApproved     Type = "invite_approved"
)

// Metadata keys shared by dispatchers and the throttle.
const (
	MetaConversationID = "conversation_id"
	MetaSenderID       = "sender_id"
	MetaMessageID      = "message_id"
	MetaQuoteID        = "quote_id"
	MetaQuoteRef       = "quote_ref"
	MetaStatus         = "status"
)

// Notification is one user-facing alert addressed to a single recipient.
type Notification struct {
	ID        string            `gorm:"column:id;primaryKey;size:64;not null"`
	UserID    string            `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_type_created,priority:1"`
	Type      Type              `gorm:"column:type;size:64;not null;index:idx_notifications_user_type_created,priority:2"`
	Title     string            `gorm:"column:title;size:255;not null"`
	Body      string            `gorm:"column:body;type:text;not null"`
	Link      *string           `gorm:"column:link;size:512"`
	IsRead    bool              `gorm:"column:is_read;not null;default:false"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;not null;index:idx_notifications_user_type_created,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
