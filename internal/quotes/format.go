package quotes

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

const currencySymbol = "R"

// FormatAmount renders rand amounts with space-grouped thousands, e.g. "R18 000" or "R1 250.50".
func FormatAmount(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return currencySymbol + "0"
	}
	if amount == math.Trunc(amount) {
		return currencySymbol + humanize.FormatFloat("# ###.", amount)
	}
	return currencySymbol + humanize.FormatFloat("# ###.##", amount)
}

// summaryMessage is the opening chat message of a quote request.
func summaryMessage(quote Quote) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Quote request %s\n", quote.Reference)
	fmt.Fprintf(&builder, "Package: %s\n", quote.PackageName)

	pricing := quote.PricingMode.Label()
	if quote.GuestCount != nil && *quote.GuestCount > 0 {
		pricing += fmt.Sprintf(" · %d guests", *quote.GuestCount)
	}
	if quote.Hours != nil && *quote.Hours > 0 {
		pricing += fmt.Sprintf(" · %s hours", humanize.Ftoa(*quote.Hours))
	}
	fmt.Fprintf(&builder, "Pricing: %s\n", pricing)
	fmt.Fprintf(&builder, "Base price: %s", FormatAmount(quote.BasePrice))

	if len(quote.AddOns) > 0 {
		parts := make([]string, 0, len(quote.AddOns))
		for _, addOn := range quote.AddOns {
			parts = append(parts, fmt.Sprintf("%s (%s)", addOn.Name, FormatAmount(addOn.Price)))
		}
		fmt.Fprintf(&builder, "\nAdd-ons: %s", strings.Join(parts, ", "))
	}
	if notes := strings.TrimSpace(quote.Notes); notes != "" {
		fmt.Fprintf(&builder, "\nNotes: %s", notes)
	}
	return builder.String()
}
