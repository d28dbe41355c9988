package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/repository"
)

const quoteItemFetchConcurrency = 4

// MessageSender posts the quote summary into the conversation.
type MessageSender interface {
	Send(ctx context.Context, in SendInput) (domain.Message, error)
}

type QuoteService struct {
	store      QuoteStore
	catalog    ProductCatalog
	sender     MessageSender
	bridge     *Bridge
	paymentURL string
	log        zerolog.Logger
}

// NewQuoteService wires the quote manager. catalog may be nil, in which case
// summaries and listings fall back to product ids.
func NewQuoteService(store QuoteStore, catalog ProductCatalog, sender MessageSender, bridge *Bridge, paymentBaseURL string, log zerolog.Logger) (*QuoteService, error) {
	if store == nil {
		return nil, errors.New("usecase: quote store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(paymentBaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.New("usecase: payment base url must be absolute")
	}
	return &QuoteService{
		store:      store,
		catalog:    catalog,
		sender:     sender,
		bridge:     bridge,
		paymentURL: base.String(),
		log:        log.With().Str("component", "quotes").Logger(),
	}, nil
}

type QuoteItemInput struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type CreateQuoteInput struct {
	ConversationID string
	// IssuerID is the provider the summary message is sent as.
	IssuerID     string
	Customer     domain.Customer
	Shipping     domain.ShippingAddress
	Items        []QuoteItemInput
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
}

func (in CreateQuoteInput) validate() *Error {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.IssuerID) == "" {
		return newError(ErrorInvalidInput, "missing_quote_ids", nil)
	}
	if len(in.Items) == 0 {
		return newError(ErrorInvalidInput, "empty_quote", nil)
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return newError(ErrorInvalidInput, "missing_product_id", nil)
		}
		if it.Quantity <= 0 {
			return newError(ErrorInvalidInput, "invalid_quantity", nil)
		}
		if it.UnitPrice.IsNegative() {
			return newError(ErrorInvalidInput, "negative_unit_price", nil)
		}
	}
	if in.ShippingCost.IsNegative() {
		return newError(ErrorInvalidInput, "negative_shipping_cost", nil)
	}
	if in.Discount.IsNegative() {
		return newError(ErrorInvalidInput, "negative_discount", nil)
	}
	return nil
}

// CreateQuote prices the items, stores the quote in status sent with a
// generated payment link and posts a summary message to the conversation.
//
// A *repository.PartialWriteError from the store surfaces as
// PARTIAL_QUOTE_WRITE; the partially written quote must not be shown.
func (s *QuoteService) CreateQuote(ctx context.Context, in CreateQuoteInput) (domain.Quote, error) {
	if verr := in.validate(); verr != nil {
		return domain.Quote{}, verr
	}
	conversationID := strings.TrimSpace(in.ConversationID)
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Quote{}, storeError(err, "conversation")
	}
	if conv.Blocked() {
		return domain.Quote{}, newError(ErrorBlocked, "conversation_blocked", nil)
	}

	ts := now()
	q := domain.Quote{
		ID:             newUUID(),
		ConversationID: conversationID,
		Status:         domain.QuoteSent,
		ShippingCost:   in.ShippingCost,
		Discount:       in.Discount,
		Customer:       in.Customer,
		Shipping:       in.Shipping,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	items := make([]domain.QuoteItem, 0, len(in.Items))
	subtotal := decimal.Zero
	for _, it := range in.Items {
		line := domain.LineTotal(it.Quantity, it.UnitPrice)
		subtotal = subtotal.Add(line)
		items = append(items, domain.QuoteItem{
			ID:         newUUID(),
			QuoteID:    q.ID,
			ProductID:  strings.TrimSpace(it.ProductID),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: line,
		})
	}
	q.Subtotal = subtotal
	q.Total = subtotal.Add(in.ShippingCost).Sub(in.Discount)
	if q.Total.IsNegative() {
		return domain.Quote{}, newError(ErrorInvalidInput, "discount_exceeds_total", nil)
	}
	q.PaymentLink = s.paymentLink(q)

	if err := s.store.CreateQuote(ctx, q, items); err != nil {
		var partial *repository.PartialWriteError
		if errors.As(err, &partial) {
			s.log.Error().Err(err).
				Str("quote_id", q.ID).
				Int("written", partial.Written).
				Int("total", partial.Total).
				Msg("quote items partially written")
			return domain.Quote{}, newError(ErrorPartialQuoteWrite, "quote_items_partial", err)
		}
		return domain.Quote{}, storeError(err, "quote_write")
	}
	q.Items = items

	products := s.lookupProducts(ctx, items)
	for i := range q.Items {
		if p, ok := products[q.Items[i].ProductID]; ok {
			q.Items[i].Product = &p
		}
	}

	// The quote is stored at this point; a failed summary is logged and the
	// quote is still returned.
	_, err = s.sender.Send(ctx, SendInput{
		ConversationID: conversationID,
		SenderID:       strings.TrimSpace(in.IssuerID),
		Content:        composeSummary(q),
	})
	if err != nil {
		s.log.Error().Err(err).Str("quote_id", q.ID).Str("conversation_id", conversationID).Msg("quote summary not sent")
	}
	s.log.Info().Str("quote_id", q.ID).Str("conversation_id", conversationID).Str("total", q.Total.StringFixed(2)).Msg("quote created")
	return q, nil
}

// paymentLink builds <base>/pay?quoteId=<id>&total=<amount>.
func (s *QuoteService) paymentLink(q domain.Quote) string {
	v := url.Values{}
	v.Set("quoteId", q.ID)
	v.Set("total", q.Total.StringFixed(2))
	return s.paymentURL + "/pay?" + v.Encode()
}

// AdvanceStatus moves a quote along pending -> sent -> paid, or to cancelled
// from either non-terminal state. The edge is checked before anything is
// written.
func (s *QuoteService) AdvanceStatus(ctx context.Context, quoteID string, to domain.QuoteStatus) (domain.Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return domain.Quote{}, newError(ErrorInvalidInput, "missing_quote_id", nil)
	}
	if !to.Valid() {
		return domain.Quote{}, newError(ErrorInvalidInput, "invalid_quote_status", nil)
	}
	current, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, storeError(err, "quote")
	}
	if !current.Status.CanTransitionTo(to) {
		return domain.Quote{}, newError(ErrorInvalidTransition, "quote_"+string(current.Status)+"_to_"+string(to), nil)
	}
	updated, err := s.store.UpdateQuoteStatus(ctx, quoteID, current.Status, to, now())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConditionFailed):
		return domain.Quote{}, newError(ErrorInvalidTransition, "quote_status_changed", err)
	default:
		return domain.Quote{}, storeError(err, "quote")
	}
	s.log.Info().Str("quote_id", quoteID).Str("from", string(current.Status)).Str("to", string(to)).Msg("quote status changed")
	s.bridge.PublishQuoteUpdated(ctx, updated)
	return updated, nil
}

// ListForConversation returns the conversation's quotes newest first. With
// withItems set, each quote carries its items joined with product snapshots;
// products missing from the catalog are left without a snapshot.
func (s *QuoteService) ListForConversation(ctx context.Context, conversationID string, withItems bool) ([]domain.Quote, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	quotes, err := s.store.ListQuotes(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorPersistence, "quote_list_error", err)
	}
	if !withItems || len(quotes) == 0 {
		return quotes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteItemFetchConcurrency)
	for i := range quotes {
		g.Go(func() error {
			items, err := s.store.ListQuoteItems(gctx, quotes[i].ID)
			if err != nil {
				return err
			}
			quotes[i].Items = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, newError(ErrorPersistence, "quote_item_list_error", err)
	}

	var all []domain.QuoteItem
	for _, q := range quotes {
		all = append(all, q.Items...)
	}
	products := s.lookupProducts(ctx, all)
	for i := range quotes {
		for j := range quotes[i].Items {
			if p, ok := products[quotes[i].Items[j].ProductID]; ok {
				quotes[i].Items[j].Product = &p
			}
		}
	}
	return quotes, nil
}

// lookupProducts is best effort: catalog failures only cost the snapshots.
func (s *QuoteService) lookupProducts(ctx context.Context, items []domain.QuoteItem) map[string]domain.ProductSnapshot {
	if s.catalog == nil || len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Int("products", len(ids)).Msg("catalog lookup failed")
		return nil
	}
	return products
}
