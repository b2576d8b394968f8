package profiles

import (
	"strings"
	"time"
)

// Profile mirrors the hosted auth user with marketplace attributes.
type Profile struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	FullName   string    `gorm:"column:full_name;size:320"`
	Email      string    `gorm:"column:email;size:320"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Vendor is keyed by the owning user's id.
type Vendor struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	BusinessName string     `gorm:"column:business_name;size:320;not null"`
	Category     string     `gorm:"column:category;size:64"`
	Published    bool       `gorm:"column:published;not null;default:false"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Vendor) TableName() string {
	return "vendors"
}

// Couple is keyed by the owning user's id.
type Couple struct {
	ID             string     `gorm:"column:id;primaryKey;size:190;not null"`
	PartnerOneName string     `gorm:"column:partner_one_name;size:320"`
	PartnerTwoName string     `gorm:"column:partner_two_name;size:320"`
	WeddingDate    *time.Time `gorm:"column:wedding_date"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Couple) TableName() string {
	return "couples"
}

// DisplayName joins the partner names, e.g. "Thandi & Sipho".
func (c Couple) DisplayName() string {
	first := normalize(c.PartnerOneName)
	second := normalize(c.PartnerTwoName)
	switch {
	case first != "" && second != "":
		return first + " & " + second
	case first != "":
		return first
	default:
		return second
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
