package quotes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle position of a quote.
type Status string

const (
	StatusRequested   Status = "requested"
	StatusNegotiating Status = "negotiating"
	StatusAccepted    Status = "accepted"
	StatusDeclined    Status = "declined"
)

// Terminal reports whether no transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// PricingMode describes how the base price was computed.
type PricingMode string

const (
	PricingGuestBased    PricingMode = "guest_based"
	PricingTimeBased     PricingMode = "time_based"
	PricingPerPerson     PricingMode = "per_person"
	PricingPackageBased  PricingMode = "package_based"
	PricingEventBased    PricingMode = "event_based"
	PricingQuantityBased PricingMode = "quantity_based"
)

var (
	// ErrInvalidStatus indicates a status outside the transition targets.
	ErrInvalidStatus = errors.New("quotes: invalid status")
	// ErrInvalidPricingMode indicates an unknown pricing mode.
	ErrInvalidPricingMode = errors.New("quotes: invalid pricing mode")
)

// ParseTargetStatus accepts only statuses a caller may request.
func ParseTargetStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusNegotiating:
		return StatusNegotiating, nil
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusDeclined:
		return StatusDeclined, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// ParsePricingMode accepts both snake_case and kebab-case spellings.
func ParsePricingMode(raw string) (PricingMode, error) {
	normalized := PricingMode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch normalized {
	case PricingGuestBased, PricingTimeBased, PricingPerPerson, PricingPackageBased, PricingEventBased, PricingQuantityBased:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPricingMode, raw)
	}
}

// Label is the human-readable form used in chat summaries.
func (m PricingMode) Label() string {
	switch m {
	case PricingGuestBased:
		return "Guest based"
	case PricingTimeBased:
		return "Time based"
	case PricingPerPerson:
		return "Per person"
	case PricingPackageBased:
		return "Package"
	case PricingEventBased:
		return "Per event"
	case PricingQuantityBased:
		return "Quantity based"
	default:
		return string(m)
	}
}

// AddOn is an optional extra priced on top of the package.
type AddOn struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Quote is a pricing negotiation between one couple and one vendor for one package.
type Quote struct {
	ID               string                     `gorm:"column:id;primaryKey;size:64;not null"`
	Reference        string                     `gorm:"column:reference;size:64;not null;uniqueIndex"`
	CoupleID         string                     `gorm:"column:couple_id;size:190;not null;index"`
	VendorID         string                     `gorm:"column:vendor_id;size:190;not null;index"`
	PackageID        string                     `gorm:"column:package_id;size:190;not null"`
	PackageName      string                     `gorm:"column:package_name;size:320;not null"`
	PricingMode      PricingMode                `gorm:"column:pricing_mode;size:32;not null"`
	GuestCount       *int                       `gorm:"column:guest_count"`
	Hours            *float64                   `gorm:"column:hours"`
	BasePrice        float64                    `gorm:"column:base_price;not null"`
	AddOns           datatypes.JSONSlice[AddOn] `gorm:"column:add_ons"`
	Notes            string                     `gorm:"column:notes;type:text"`
	VendorFinalPrice *float64                   `gorm:"column:vendor_final_price"`
	VendorMessage    *string                    `gorm:"column:vendor_message;type:text"`
	Status           Status                     `gorm:"column:status;size:32;not null;index"`
	CreatedAt        time.Time                  `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Quote) TableName() string {
	return "quotes"
}

// Conversion records an accepted quote for vendor reporting.
type Conversion struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	QuoteID   string    `gorm:"column:quote_id;size:64;not null;index"`
	VendorID  string    `gorm:"column:vendor_id;size:190;not null;index"`
	CoupleID  string    `gorm:"column:couple_id;size:190;not null"`
	Amount    float64   `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (Conversion) TableName() string {
	return "quote_conversions"
}
