package quotes

import (
	"errors"
	"fmt"
)

// Role is the side of the quote an actor stands on.
type Role string

const (
	RoleCouple Role = "couple"
	RoleVendor Role = "vendor"
)

var (
	errWrongRole         = errors.New("role may not request this status")
	errTransitionBlocked = errors.New("transition not allowed from current status")
)

// roleOf resolves the actor's side, or "" when the actor is not a party to the quote.
func roleOf(quote Quote, actorID string) Role {
	switch {
	case actorID == "":
		return ""
	case actorID == quote.VendorID:
		return RoleVendor
	case actorID == quote.CoupleID:
		return RoleCouple
	default:
		return ""
	}
}

// allowedSources lists the statuses each target may be reached from, and by whom.
var allowedSources = map[Status]struct {
	role    Role
	sources []Status
}{
	StatusNegotiating: {role: RoleVendor, sources: []Status{StatusRequested, StatusNegotiating}},
	StatusAccepted:    {role: RoleCouple, sources: []Status{StatusRequested, StatusNegotiating}},
	StatusDeclined:    {role: RoleCouple, sources: []Status{StatusRequested, StatusNegotiating}},
}

// checkTransition returns errWrongRole when role may never request next, and
// errTransitionBlocked when next cannot follow current.
func checkTransition(current Status, role Role, next Status) error {
	rule, ok := allowedSources[next]
	if !ok {
		return fmt.Errorf("%w: %s", errTransitionBlocked, next)
	}
	if rule.role != role {
		return fmt.Errorf("%w: %s cannot set %s", errWrongRole, role, next)
	}
	for _, source := range rule.sources {
		if source == current {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", errTransitionBlocked, current, next)
}

type noticeKey struct {
	role   Role
	status Status
}

// statusNotice builds the title and body sent to the counterparty.
type statusNotice func(quote Quote, actorName string) (title, body string)

var statusNotices = map[noticeKey]statusNotice{
	{role: RoleVendor, status: StatusNegotiating}: func(quote Quote, actorName string) (string, string) {
		title := fmt.Sprintf("Final quote sent for %s", quote.Reference)
		if quote.VendorFinalPrice == nil {
			return title, fmt.Sprintf("%s is reviewing your request for %s.", actorName, quote.PackageName)
		}
		return title, fmt.Sprintf("%s sent a final price of %s for %s.", actorName, FormatAmount(*quote.VendorFinalPrice), quote.PackageName)
	},
	{role: RoleCouple, status: StatusAccepted}: func(quote Quote, actorName string) (string, string) {
		return fmt.Sprintf("Quote %s accepted", quote.Reference),
			fmt.Sprintf("%s accepted your quote for %s.", actorName, quote.PackageName)
	},
	{role: RoleCouple, status: StatusDeclined}: func(quote Quote, actorName string) (string, string) {
		return fmt.Sprintf("Quote %s declined", quote.Reference),
			fmt.Sprintf("%s declined your quote for %s.", actorName, quote.PackageName)
	},
}

// statusChatMessage is the chat line appended for a transition; ok is false when none is due.
func statusChatMessage(quote Quote, role Role, finalPriceSet bool) (string, bool) {
	switch {
	case role == RoleVendor && quote.Status == StatusNegotiating && finalPriceSet && quote.VendorFinalPrice != nil:
		text := fmt.Sprintf("Final quote for %s (%s): %s", quote.Reference, quote.PackageName, FormatAmount(*quote.VendorFinalPrice))
		if quote.VendorMessage != nil && *quote.VendorMessage != "" {
			text += "\n" + *quote.VendorMessage
		}
		return text, true
	case role == RoleCouple && quote.Status == StatusAccepted:
		return fmt.Sprintf("Accepted quote %s for %s.", quote.Reference, quote.PackageName), true
	case role == RoleCouple && quote.Status == StatusDeclined:
		return fmt.Sprintf("Declined quote %s for %s.", quote.Reference, quote.PackageName), true
	default:
		return "", false
	}
}
