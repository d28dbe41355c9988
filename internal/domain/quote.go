package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuoteStatus string

const (
	QuotePending   QuoteStatus = "pending"
	QuoteSent      QuoteStatus = "sent"
	QuotePaid      QuoteStatus = "paid"
	QuoteCancelled QuoteStatus = "cancelled"
)

var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuotePending: {QuoteSent, QuoteCancelled},
	QuoteSent:    {QuotePaid, QuoteCancelled},
}

// Valid reports whether s is a known status.
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuotePending, QuoteSent, QuotePaid, QuoteCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s QuoteStatus) Terminal() bool {
	return s == QuotePaid || s == QuoteCancelled
}

// CanTransitionTo reports whether s -> next is an allowed edge.
func (s QuoteStatus) CanTransitionTo(next QuoteStatus) bool {
	for _, allowed := range quoteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Customer is the free-text customer snapshot stored on a quote.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ShippingAddress is the free-text shipping snapshot stored on a quote.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Quote struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Status         QuoteStatus     `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Customer       Customer        `json:"customer"`
	Shipping       ShippingAddress `json:"shipping"`
	PaymentLink    string          `json:"payment_link"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []QuoteItem     `json:"items,omitempty"`
}

type QuoteItem struct {
	ID         string           `json:"id"`
	QuoteID    string           `json:"quote_id"`
	ProductID  string           `json:"product_id"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Product    *ProductSnapshot `json:"product,omitempty"`
}

// ProductSnapshot is the read-only catalog view joined into quote displays.
type ProductSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// LineTotal returns quantity x unit price.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
