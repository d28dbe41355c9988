package repository

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"negotiation-chat/internal/domain"
)

const (
	entityConversation = "CONVERSATION"
	entityMessage      = "MESSAGE"
	entityTyping       = "TYPING"
	entityQuote        = "QUOTE"
	entityQuoteItem    = "QUOTE_ITEM"
	entityReport       = "REPORT"
)

func conversationItem(c domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":           attrS(convPK(c.ID)),
		"SK":           attrS(skMeta),
		"entity":       attrS(entityConversation),
		"id":           attrS(c.ID),
		"customer_id":  attrS(c.CustomerID),
		"status":       attrS(string(c.Status)),
		"pinned":       attrB(c.Pinned),
		"archived":     attrB(c.Archived),
		"unread_count": attrN(strconv.Itoa(c.UnreadCount)),
		"created_at":   attrS(formatTime(c.CreatedAt)),
		"updated_at":   attrS(formatTime(c.UpdatedAt)),
		attrGSI1PK:     attrS(customerGSIKey(c.CustomerID)),
		attrGSI1SK:     attrS(formatTime(c.UpdatedAt)),
		attrGSI2PK:     attrS(allConversationsGSIKey),
		attrGSI2SK:     attrS(formatTime(c.UpdatedAt)),
	}
	// provider_id stays absent until claimed; the claim condition relies on it.
	if c.ProviderID != "" {
		item["provider_id"] = attrS(c.ProviderID)
	}
	if c.ProductID != "" {
		item["product_id"] = attrS(c.ProductID)
	}
	if c.MutedUntil != nil {
		item["muted_until"] = attrS(formatTime(*c.MutedUntil))
	}
	if c.TemporaryHours != nil {
		item["temporary_hours"] = attrN(strconv.Itoa(*c.TemporaryHours))
	}
	// DynamoDB rejects empty sets, so an unblocked conversation has no attribute.
	if len(c.BlockedBy) > 0 {
		item["blocked_by"] = &types.AttributeValueMemberSS{Value: c.BlockedBy}
	}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Conversation{}, err
	}
	customerID, err := strAttr(item, "customer_id")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := timeAttr(item, "created_at")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeAttr(item, "updated_at")
	if err != nil {
		return domain.Conversation{}, err
	}
	unread, err := optIntAttr(item, "unread_count")
	if err != nil {
		return domain.Conversation{}, err
	}

	c := domain.Conversation{
		ID:          id,
		CustomerID:  customerID,
		ProviderID:  optStrAttr(item, "provider_id"),
		ProductID:   optStrAttr(item, "product_id"),
		Status:      domain.ConversationStatus(optStrAttr(item, "status")),
		Pinned:      optBoolAttr(item, "pinned"),
		Archived:    optBoolAttr(item, "archived"),
		UnreadCount: unread,
		BlockedBy:   optStrSetAttr(item, "blocked_by"),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
	if c.Status == "" {
		c.Status = domain.ConversationActive
	}
	if _, ok := item["muted_until"]; ok {
		mu, err := timeAttr(item, "muted_until")
		if err != nil {
			return domain.Conversation{}, err
		}
		c.MutedUntil = &mu
	}
	if _, ok := item["temporary_hours"]; ok {
		h, err := intAttr(item, "temporary_hours")
		if err != nil {
			return domain.Conversation{}, err
		}
		c.TemporaryHours = &h
	}
	return c, nil
}

func messageItem(m domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":              attrS(convPK(m.ConversationID)),
		"SK":              attrS(msgSK(m.CreatedAt, m.ID)),
		"entity":          attrS(entityMessage),
		"id":              attrS(m.ID),
		"conversation_id": attrS(m.ConversationID),
		"sender_id":       attrS(m.SenderID),
		"content":         attrS(m.Content),
		"created_at":      attrS(formatTime(m.CreatedAt)),
		"edited":          attrB(m.Edited),
	}
	if a := m.Attachment; a != nil {
		item["attachment_url"] = attrS(a.URL)
		item["attachment_type"] = attrS(string(a.Type))
		item["attachment_name"] = attrS(a.Name)
		item["attachment_size"] = attrN(strconv.FormatInt(a.Size, 10))
	}
	if m.ReplyTo != "" {
		item["reply_to"] = attrS(m.ReplyTo)
	}
	if m.ClientRef != "" {
		item["client_ref"] = attrS(m.ClientRef)
	}
	if m.ReadAt != nil {
		item["read_at"] = attrS(formatTime(*m.ReadAt))
	}
	if m.TTL > 0 {
		item["ttl"] = attrN(strconv.FormatInt(m.TTL, 10))
	}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversation_id")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender_id")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeAttr(item, "created_at")
	if err != nil {
		return domain.Message{}, err
	}

	m := domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Content:        optStrAttr(item, "content"), // attachment-only messages carry no text
		CreatedAt:      createdAt,
		Edited:         optBoolAttr(item, "edited"),
		ReplyTo:        optStrAttr(item, "reply_to"),
		ClientRef:      optStrAttr(item, "client_ref"),
	}
	if url := optStrAttr(item, "attachment_url"); url != "" {
		size, err := optInt64Attr(item, "attachment_size")
		if err != nil {
			return domain.Message{}, err
		}
		m.Attachment = &domain.Attachment{
			URL:  url,
			Type: domain.AttachmentType(optStrAttr(item, "attachment_type")),
			Name: optStrAttr(item, "attachment_name"),
			Size: size,
		}
	}
	if _, ok := item["read_at"]; ok {
		readAt, err := timeAttr(item, "read_at")
		if err != nil {
			return domain.Message{}, err
		}
		m.ReadAt = &readAt
	}
	ttl, err := optInt64Attr(item, "ttl")
	if err != nil {
		return domain.Message{}, err
	}
	m.TTL = ttl
	return m, nil
}

func typingItem(t domain.TypingStatus) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              attrS(convPK(t.ConversationID)),
		"SK":              attrS(typingSK(t.UserID)),
		"entity":          attrS(entityTyping),
		"conversation_id": attrS(t.ConversationID),
		"user_id":         attrS(t.UserID),
		"is_typing":       attrB(t.IsTyping),
		"updated_at":      attrS(formatTime(t.UpdatedAt)),
	}
}

func itemToTyping(item map[string]types.AttributeValue) (domain.TypingStatus, error) {
	convID, err := strAttr(item, "conversation_id")
	if err != nil {
		return domain.TypingStatus{}, err
	}
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.TypingStatus{}, err
	}
	updatedAt, err := timeAttr(item, "updated_at")
	if err != nil {
		return domain.TypingStatus{}, err
	}
	return domain.TypingStatus{
		ConversationID: convID,
		UserID:         userID,
		IsTyping:       optBoolAttr(item, "is_typing"),
		UpdatedAt:      updatedAt,
	}, nil
}

func reportItem(r domain.Report) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              attrS(convPK(r.ConversationID)),
		"SK":              attrS(reportSK(r.CreatedAt, r.ID)),
		"entity":          attrS(entityReport),
		"id":              attrS(r.ID),
		"conversation_id": attrS(r.ConversationID),
		"reported_by":     attrS(r.ReporterID),
		"reason":          attrS(string(r.Reason)),
		"description":     attrS(r.Description),
		"created_at":      attrS(formatTime(r.CreatedAt)),
	}
}

func quoteItem(q domain.Quote) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                   attrS(quotePK(q.ID)),
		"SK":                   attrS(skMeta),
		"entity":               attrS(entityQuote),
		"id":                   attrS(q.ID),
		"conversation_id":      attrS(q.ConversationID),
		"status":               attrS(string(q.Status)),
		"subtotal":             attrN(q.Subtotal.String()),
		"shipping_cost":        attrN(q.ShippingCost.String()),
		"discount":             attrN(q.Discount.String()),
		"total":                attrN(q.Total.String()),
		"customer_name":        attrS(q.Customer.Name),
		"customer_email":       attrS(q.Customer.Email),
		"shipping_address":     attrS(q.Shipping.Address),
		"shipping_city":        attrS(q.Shipping.City),
		"shipping_postal_code": attrS(q.Shipping.PostalCode),
		"shipping_country":     attrS(q.Shipping.Country),
		"payment_link":         attrS(q.PaymentLink),
		"created_at":           attrS(formatTime(q.CreatedAt)),
		"updated_at":           attrS(formatTime(q.UpdatedAt)),
		attrGSI1PK:             attrS(conversationQuotesGSIKey(q.ConversationID)),
		attrGSI1SK:             attrS(formatTime(q.CreatedAt)),
	}
}

func itemToQuote(item map[string]types.AttributeValue) (domain.Quote, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Quote{}, err
	}
	convID, err := strAttr(item, "conversation_id")
	if err != nil {
		return domain.Quote{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Quote{}, err
	}
	q := domain.Quote{
		ID:             id,
		ConversationID: convID,
		Status:         domain.QuoteStatus(status),
		Customer: domain.Customer{
			Name:  optStrAttr(item, "customer_name"),
			Email: optStrAttr(item, "customer_email"),
		},
		Shipping: domain.ShippingAddress{
			Address:    optStrAttr(item, "shipping_address"),
			City:       optStrAttr(item, "shipping_city"),
			PostalCode: optStrAttr(item, "shipping_postal_code"),
			Country:    optStrAttr(item, "shipping_country"),
		},
		PaymentLink: optStrAttr(item, "payment_link"),
	}
	for key, dst := range map[string]*decimal.Decimal{
		"subtotal":      &q.Subtotal,
		"shipping_cost": &q.ShippingCost,
		"discount":      &q.Discount,
		"total":         &q.Total,
	} {
		v, err := decimalAttr(item, key)
		if err != nil {
			return domain.Quote{}, err
		}
		*dst = v
	}
	if q.CreatedAt, err = timeAttr(item, "created_at"); err != nil {
		return domain.Quote{}, err
	}
	if q.UpdatedAt, err = timeAttr(item, "updated_at"); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}

func quoteLineItem(it domain.QuoteItem, position int, conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              attrS(quotePK(it.QuoteID)),
		"SK":              attrS(quoteItemSK(position)),
		"entity":          attrS(entityQuoteItem),
		"id":              attrS(it.ID),
		"quote_id":        attrS(it.QuoteID),
		"conversation_id": attrS(conversationID),
		"product_id":      attrS(it.ProductID),
		"quantity":        attrN(strconv.Itoa(it.Quantity)),
		"unit_price":      attrN(it.UnitPrice.String()),
		"total_price":     attrN(it.TotalPrice.String()),
	}
}

func itemToQuoteItem(item map[string]types.AttributeValue) (domain.QuoteItem, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	quoteID, err := strAttr(item, "quote_id")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	productID, err := strAttr(item, "product_id")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	qty, err := intAttr(item, "quantity")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	unit, err := decimalAttr(item, "unit_price")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	total, err := decimalAttr(item, "total_price")
	if err != nil {
		return domain.QuoteItem{}, err
	}
	return domain.QuoteItem{
		ID:         id,
		QuoteID:    quoteID,
		ProductID:  productID,
		Quantity:   qty,
		UnitPrice:  unit,
		TotalPrice: total,
	}, nil
}

// DecodeChange turns a raw table image into a change event. ok is false for
// rows the change feed does not carry (quote items).
func DecodeChange(op domain.ChangeOp, item map[string]types.AttributeValue) (ev domain.ChangeEvent, ok bool, err error) {
	entity := optStrAttr(item, "entity")
	ev.Op = op
	switch entity {
	case entityConversation:
		c, err := itemToConversation(item)
		if err != nil {
			return ev, false, fmt.Errorf("repository: decode conversation: %w", err)
		}
		ev.Table, ev.ConversationID, ev.Conversation = domain.TableConversations, c.ID, &c
	case entityMessage:
		m, err := itemToMessage(item)
		if err != nil {
			return ev, false, fmt.Errorf("repository: decode message: %w", err)
		}
		ev.Table, ev.ConversationID, ev.Message = domain.TableMessages, m.ConversationID, &m
	case entityTyping:
		t, err := itemToTyping(item)
		if err != nil {
			return ev, false, fmt.Errorf("repository: decode typing status: %w", err)
		}
		ev.Table, ev.ConversationID, ev.Typing = domain.TableTypingStatus, t.ConversationID, &t
	case entityQuote:
		q, err := itemToQuote(item)
		if err != nil {
			return ev, false, fmt.Errorf("repository: decode quote: %w", err)
		}
		ev.Table, ev.ConversationID, ev.Quote = domain.TableQuotes, q.ConversationID, &q
	default:
		return ev, false, nil
	}
	return ev, true, nil
}

func attrS(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func attrN(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }
func attrB(v bool) types.AttributeValue   { return &types.AttributeValueMemberBOOL{Value: v} }

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	sv, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return sv.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	v, _ := strAttr(item, key)
	return v
}

func optStrSetAttr(item map[string]types.AttributeValue, key string) []string {
	v, ok := item[key].(*types.AttributeValueMemberSS)
	if !ok || len(v.Value) == 0 {
		return nil
	}
	out := append([]string(nil), v.Value...)
	sort.Strings(out)
	return out
}

func optBoolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && v.Value
}

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	nv, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return nv.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optIntAttr(item map[string]types.AttributeValue, key string) (int, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return intAttr(item, key)
}

func optInt64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func decimalAttr(item map[string]types.AttributeValue, key string) (decimal.Decimal, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return d, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
