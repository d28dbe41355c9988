package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/relay"
	"negotiation-chat/internal/repository"
)

type fakeSender struct {
	err  error
	sent []SendInput
}

func (f *fakeSender) Send(_ context.Context, in SendInput) (domain.Message, error) {
	f.sent = append(f.sent, in)
	if f.err != nil {
		return domain.Message{}, f.err
	}
	return domain.Message{ID: "summary", ConversationID: in.ConversationID, SenderID: in.SenderID, Content: in.Content}, nil
}

type fakeCatalog struct {
	products map[string]domain.ProductSnapshot
	err      error
}

func (f fakeCatalog) Products(_ context.Context, ids []string) (map[string]domain.ProductSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.ProductSnapshot)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var widgetCatalog = fakeCatalog{products: map[string]domain.ProductSnapshot{
	"p1": {ID: "p1", Name: "Widget", ImageURL: "https://cdn.example.com/p1.png"},
}}

func newQuoteService(t *testing.T, store QuoteStore, catalog ProductCatalog, sender MessageSender, bridge *Bridge) *QuoteService {
	t.Helper()
	svc, err := NewQuoteService(store, catalog, sender, bridge, "https://shop.example.com/", zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func exampleQuoteInput() CreateQuoteInput {
	return CreateQuoteInput{
		ConversationID: "conv-1",
		IssuerID:       "prov-a",
		Customer:       domain.Customer{Name: "Ana", Email: "ana@example.com"},
		Shipping:       domain.ShippingAddress{Address: "Calle 1", City: "Madrid", PostalCode: "28001", Country: "ES"},
		Items: []QuoteItemInput{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("49.99")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("129.00")},
		},
		ShippingCost: decimal.RequireFromString("9.99"),
		Discount:     decimal.RequireFromString("10.00"),
	}
}

func TestCreateQuote_ArithmeticLinkAndSummary(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	sender := &fakeSender{}
	svc := newQuoteService(t, e.store, widgetCatalog, sender, e.bridge)

	q, err := svc.CreateQuote(context.Background(), exampleQuoteInput())
	require.NoError(t, err)

	require.Equal(t, "id-0001", q.ID)
	require.Equal(t, domain.QuoteSent, q.Status)
	require.Equal(t, "228.98", q.Subtotal.StringFixed(2))
	require.Equal(t, "228.97", q.Total.StringFixed(2))
	require.Equal(t, "https://shop.example.com/pay?quoteId=id-0001&total=228.97", q.PaymentLink)
	require.Len(t, q.Items, 2)
	require.Equal(t, "99.98", q.Items[0].TotalPrice.StringFixed(2))
	require.Equal(t, "129.00", q.Items[1].TotalPrice.StringFixed(2))
	require.Equal(t, "Widget", q.Items[0].Product.Name)
	require.Nil(t, q.Items[1].Product)

	stored, err := e.store.GetQuote(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteSent, stored.Status)
	items, err := e.store.ListQuoteItems(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Len(t, sender.sent, 1)
	summary := sender.sent[0]
	require.Equal(t, "conv-1", summary.ConversationID)
	require.Equal(t, "prov-a", summary.SenderID)
	for _, line := range []string{
		"2 x Widget @ 49.99 = 99.98",
		"1 x p2 @ 129.00 = 129.00",
		"Subtotal: 228.98",
		"Shipping: 9.99",
		"Discount: -10.00",
		"Total: 228.97",
		q.PaymentLink,
	} {
		require.Contains(t, summary.Content, line)
	}
}

func TestCreateQuote_BlockedConversationIsRejected(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	_, err := e.store.SetConversationBlocked(context.Background(), "conv-1", "prov-a", true, testBase)
	require.NoError(t, err)
	sender := &fakeSender{}
	svc := newQuoteService(t, e.store, nil, sender, nil)

	_, err = svc.CreateQuote(context.Background(), exampleQuoteInput())
	requireCode(t, err, ErrorBlocked)
	quotes, err := e.store.ListQuotes(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Empty(t, quotes)
	require.Empty(t, sender.sent)
}

func TestCreateQuote_Validation(t *testing.T) {
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	sender := &fakeSender{}
	svc := newQuoteService(t, e.store, nil, sender, nil)

	mutate := map[string]func(*CreateQuoteInput){
		"no items":          func(in *CreateQuoteInput) { in.Items = nil },
		"zero quantity":     func(in *CreateQuoteInput) { in.Items[0].Quantity = 0 },
		"negative price":    func(in *CreateQuoteInput) { in.Items[1].UnitPrice = decimal.RequireFromString("-1") },
		"missing product":   func(in *CreateQuoteInput) { in.Items[0].ProductID = "" },
		"negative shipping": func(in *CreateQuoteInput) { in.ShippingCost = decimal.RequireFromString("-0.01") },
		"negative discount": func(in *CreateQuoteInput) { in.Discount = decimal.RequireFromString("-5") },
		"discount too big":  func(in *CreateQuoteInput) { in.Discount = decimal.RequireFromString("1000") },
		"no issuer":         func(in *CreateQuoteInput) { in.IssuerID = "" },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			in := exampleQuoteInput()
			fn(&in)
			_, err := svc.CreateQuote(context.Background(), in)
			requireCode(t, err, ErrorInvalidInput)
		})
	}
	require.Empty(t, sender.sent)

	in := exampleQuoteInput()
	in.ConversationID = "missing"
	_, err := svc.CreateQuote(context.Background(), in)
	requireCode(t, err, ErrorNotFound)
}

type partialQuoteStore struct {
	*repository.MemoryStore
}

func (partialQuoteStore) CreateQuote(_ context.Context, q domain.Quote, items []domain.QuoteItem) error {
	return &repository.PartialWriteError{QuoteID: q.ID, Written: 1, Total: len(items), Err: errors.New("throttled")}
}

func TestCreateQuote_PartialWriteIsDistinct(t *testing.T) {
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	sender := &fakeSender{}
	svc := newQuoteService(t, partialQuoteStore{e.store}, nil, sender, nil)

	_, err := svc.CreateQuote(context.Background(), exampleQuoteInput())
	requireCode(t, err, ErrorPartialQuoteWrite)
	require.Empty(t, sender.sent)
}

func TestCreateQuote_SummaryFailureKeepsQuote(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	svc := newQuoteService(t, e.store, fakeCatalog{err: errors.New("catalog down")}, &fakeSender{err: errors.New("throttled")}, nil)

	q, err := svc.CreateQuote(context.Background(), exampleQuoteInput())
	require.NoError(t, err)
	_, err = e.store.GetQuote(context.Background(), q.ID)
	require.NoError(t, err)
}

func TestAdvanceStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to domain.QuoteStatus
		ok       bool
	}{
		{domain.QuotePending, domain.QuoteSent, true},
		{domain.QuoteSent, domain.QuotePaid, true},
		{domain.QuotePending, domain.QuoteCancelled, true},
		{domain.QuoteSent, domain.QuoteCancelled, true},
		{domain.QuotePaid, domain.QuoteCancelled, false},
		{domain.QuotePaid, domain.QuoteSent, false},
		{domain.QuoteCancelled, domain.QuoteSent, false},
		{domain.QuoteCancelled, domain.QuotePaid, false},
		{domain.QuoteSent, domain.QuotePending, false},
		{domain.QuotePending, domain.QuotePaid, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			stubClock(t)
			e := newEnv(t)
			ctx := context.Background()
			require.NoError(t, e.store.CreateQuote(ctx, domain.Quote{ID: "q-1", ConversationID: "conv-1", Status: tc.from}, nil))
			topic := listen(t, e.relay, relay.ConversationTopic("conv-1"))
			svc := newQuoteService(t, e.store, nil, &fakeSender{}, e.bridge)

			q, err := svc.AdvanceStatus(ctx, "q-1", tc.to)
			stored, getErr := e.store.GetQuote(ctx, "q-1")
			require.NoError(t, getErr)
			if tc.ok {
				require.NoError(t, err)
				require.Equal(t, tc.to, q.Status)
				require.Equal(t, tc.to, stored.Status)
				require.Equal(t, []string{relay.EventQuoteUpdated}, topic.names())
				return
			}
			requireCode(t, err, ErrorInvalidTransition)
			require.Equal(t, tc.from, stored.Status)
			require.Empty(t, topic.names())
		})
	}
}

// staleQuoteStore reports the quote as still pending after someone else has
// already moved it on.
type staleQuoteStore struct {
	*repository.MemoryStore
}

func (s staleQuoteStore) GetQuote(ctx context.Context, quoteID string) (domain.Quote, error) {
	q, err := s.MemoryStore.GetQuote(ctx, quoteID)
	q.Status = domain.QuotePending
	return q, err
}

func TestAdvanceStatus_ConcurrentChangeIsInvalidTransition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.CreateQuote(ctx, domain.Quote{ID: "q-1", ConversationID: "conv-1", Status: domain.QuoteSent}, nil))
	svc := newQuoteService(t, staleQuoteStore{e.store}, nil, &fakeSender{}, nil)

	_, err := svc.AdvanceStatus(ctx, "q-1", domain.QuoteCancelled)
	requireCode(t, err, ErrorInvalidTransition)
}

func TestAdvanceStatus_Errors(t *testing.T) {
	e := newEnv(t)
	svc := newQuoteService(t, e.store, nil, &fakeSender{}, nil)

	_, err := svc.AdvanceStatus(context.Background(), "missing", domain.QuoteSent)
	requireCode(t, err, ErrorNotFound)

	_, err = svc.AdvanceStatus(context.Background(), "q-1", domain.QuoteStatus("draft"))
	requireCode(t, err, ErrorInvalidInput)
}

func TestListForConversation_JoinsItemsAndProducts(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	svc := newQuoteService(t, e.store, widgetCatalog, &fakeSender{}, nil)
	ctx := context.Background()

	first, err := svc.CreateQuote(ctx, exampleQuoteInput())
	require.NoError(t, err)
	second, err := svc.CreateQuote(ctx, exampleQuoteInput())
	require.NoError(t, err)

	bare, err := svc.ListForConversation(ctx, "conv-1", false)
	require.NoError(t, err)
	require.Len(t, bare, 2)
	require.Equal(t, second.ID, bare[0].ID)
	require.Equal(t, first.ID, bare[1].ID)
	require.Empty(t, bare[0].Items)

	full, err := svc.ListForConversation(ctx, "conv-1", true)
	require.NoError(t, err)
	require.Len(t, full, 2)
	for _, q := range full {
		require.Len(t, q.Items, 2)
		require.Equal(t, "Widget", q.Items[0].Product.Name)
		require.Nil(t, q.Items[1].Product)
	}
}

func TestListForConversation_CatalogFailureIsIgnored(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	ctx := context.Background()
	_, err := newQuoteService(t, e.store, nil, &fakeSender{}, nil).CreateQuote(ctx, exampleQuoteInput())
	require.NoError(t, err)

	svc := newQuoteService(t, e.store, fakeCatalog{err: errors.New("catalog down")}, &fakeSender{}, nil)
	quotes, err := svc.ListForConversation(ctx, "conv-1", true)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Len(t, quotes[0].Items, 2)
	require.Nil(t, quotes[0].Items[0].Product)
}

func TestNewQuoteService_RequiresAbsolutePaymentURL(t *testing.T) {
	_, err := NewQuoteService(repository.NewMemoryStore(nil), nil, &fakeSender{}, nil, "/pay", zerolog.Nop())
	require.Error(t, err)
}
