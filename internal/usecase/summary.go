package usecase

import (
	"fmt"
	"strings"

	"negotiation-chat/internal/domain"
)

// composeSummary renders the chat message announcing a quote.
func composeSummary(q domain.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote %s\n", shortID(q.ID))
	for _, it := range q.Items {
		name := it.ProductID
		if it.Product != nil && it.Product.Name != "" {
			name = it.Product.Name
		}
		fmt.Fprintf(&b, "%d x %s @ %s = %s\n", it.Quantity, name, it.UnitPrice.StringFixed(2), it.TotalPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "Subtotal: %s\n", q.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "Shipping: %s\n", q.ShippingCost.StringFixed(2))
	if !q.Discount.IsZero() {
		fmt.Fprintf(&b, "Discount: -%s\n", q.Discount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s\n", q.Total.StringFixed(2))
	fmt.Fprintf(&b, "Pay here: %s", q.PaymentLink)
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + strings.ToUpper(id[:8])
	}
	return "#" + strings.ToUpper(id)
}
