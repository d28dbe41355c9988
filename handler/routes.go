package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/integrations/blobstore"
	"negotiation-chat/internal/usecase"
)

type createConversationRequest struct {
	ProductID  string `json:"productId"`
	ProviderID string `json:"providerId"`
}

func (h *Handler) createConversation(ctx context.Context, req request) events.APIGatewayProxyResponse {
	var body createConversationRequest
	if strings.TrimSpace(req.Body) != "" {
		if err := decodeBody(req, &body); err != nil {
			return h.fail(ctx, err)
		}
	}
	conv, err := h.svc.Conversations.Create(ctx, usecase.CreateConversationInput{
		CustomerID: req.UserID,
		ProductID:  body.ProductID,
		ProviderID: body.ProviderID,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusCreated, conv)
}

func (h *Handler) listConversations(ctx context.Context, req request) events.APIGatewayProxyResponse {
	convs, err := h.svc.Conversations.ListVisible(ctx, req.UserID, req.Role)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, convs)
}

func (h *Handler) updateSettings(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var set domain.ConversationSettings
	if err := decodeBody(req, &set); err != nil {
		return h.fail(ctx, err)
	}
	if set.Empty() {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_settings"})
	}
	conv, err := h.svc.Conversations.UpdateSettings(ctx, conversationID, set)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, conv)
}

func (h *Handler) deleteConversation(ctx context.Context, conversationID string) events.APIGatewayProxyResponse {
	if err := h.svc.Conversations.Delete(ctx, conversationID); err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusNoContent, nil)
}

func (h *Handler) claim(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	conv, err := h.svc.Conversations.Claim(ctx, conversationID, req.UserID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, conv)
}

type reportRequest struct {
	Reason      domain.ReportReason `json:"reason"`
	Description string              `json:"description"`
}

func (h *Handler) report(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var body reportRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	r, err := h.svc.Conversations.Report(ctx, usecase.ReportInput{
		ConversationID: conversationID,
		ReporterID:     req.UserID,
		Reason:         body.Reason,
		Description:    body.Description,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusCreated, r)
}

type blockRequest struct {
	Blocked *bool `json:"blocked"`
}

func (h *Handler) setBlocked(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var body blockRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	if body.Blocked == nil {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_blocked"})
	}
	conv, err := h.svc.Conversations.SetBlocked(ctx, conversationID, req.UserID, *body.Blocked)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, conv)
}

func (h *Handler) listMessages(ctx context.Context, conversationID string) events.APIGatewayProxyResponse {
	msgs, err := h.svc.Messages.ListMessages(ctx, conversationID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content        string             `json:"content"`
	Attachment     *domain.Attachment `json:"attachment,omitempty"`
	AttachmentMIME string             `json:"attachmentMimeType,omitempty"`
	ReplyTo        string             `json:"replyTo,omitempty"`
	ClientRef      string             `json:"clientRef,omitempty"`
}

func (h *Handler) sendMessage(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var body sendMessageRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	msg, err := h.svc.Messages.Send(ctx, usecase.SendInput{
		ConversationID: conversationID,
		SenderID:       req.UserID,
		Content:        body.Content,
		Attachment:     body.Attachment,
		AttachmentMIME: body.AttachmentMIME,
		ReplyTo:        body.ReplyTo,
		ClientRef:      body.ClientRef,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusCreated, msg)
}

type markReadResponse struct {
	Marked int `json:"marked"`
}

func (h *Handler) markRead(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	n, err := h.svc.Messages.MarkRead(ctx, conversationID, req.UserID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, markReadResponse{Marked: n})
}

type typingRequest struct {
	IsTyping *bool `json:"isTyping"`
}

func (h *Handler) setTyping(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var body typingRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	if body.IsTyping == nil {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_is_typing"})
	}
	if err := h.svc.Typing.SetTyping(ctx, conversationID, req.UserID, *body.IsTyping); err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusNoContent, nil)
}

// uploadAttachment stores the raw request body and returns the descriptor
// the client then sends along with its message.
func (h *Handler) uploadAttachment(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	if h.svc.Attachments == nil || !h.svc.Attachments.Enabled() {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "attachments_disabled"})
	}
	name := path.Base(strings.TrimSpace(req.QueryStringParameters["name"]))
	if name == "." || name == "/" {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_attachment_name"})
	}

	data := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_base64", Err: err})
		}
		data = decoded
	}
	if len(data) == 0 {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_attachment"})
	}
	if int64(len(data)) > h.maxAttachmentBytes {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "attachment_too_large"})
	}

	key := path.Join("conversations", conversationID, uuid.NewString(), name)
	obj, err := h.svc.Attachments.Upload(ctx, key, data)
	if err != nil {
		if errors.Is(err, blobstore.ErrDisabled) {
			return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "attachments_disabled", Err: err})
		}
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorPersistence, Reason: "attachment_upload_error", Err: err})
	}
	return respond(http.StatusCreated, uploadResponse{
		Attachment: domain.Attachment{
			URL:  obj.URL,
			Type: usecase.ClassifyAttachment(name, obj.ContentType),
			Name: name,
			Size: obj.Size,
		},
		Key: obj.Key,
	})
}

type uploadResponse struct {
	domain.Attachment
	Key string `json:"key"`
}

// discardAttachment removes an upload the client dropped before sending. Only
// keys under the conversation's own prefix are accepted.
func (h *Handler) discardAttachment(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	if h.svc.Attachments == nil || !h.svc.Attachments.Enabled() {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "attachments_disabled"})
	}
	key := strings.TrimLeft(path.Clean("/"+strings.TrimSpace(req.QueryStringParameters["key"])), "/")
	if !strings.HasPrefix(key, path.Join("conversations", conversationID)+"/") {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_attachment_key"})
	}
	if err := h.svc.Attachments.Remove(ctx, key); err != nil {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorPersistence, Reason: "attachment_remove_error", Err: err})
	}
	return respond(http.StatusNoContent, nil)
}

func (h *Handler) listQuotes(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	withItems := false
	if raw := req.QueryStringParameters["items"]; raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_items_flag", Err: err})
		}
		withItems = v
	}
	quotes, err := h.svc.Quotes.ListForConversation(ctx, conversationID, withItems)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, quotes)
}

type quoteItemRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createQuoteRequest struct {
	Customer     domain.Customer        `json:"customer"`
	Shipping     domain.ShippingAddress `json:"shipping"`
	Items        []quoteItemRequest     `json:"items"`
	ShippingCost decimal.Decimal        `json:"shippingCost"`
	Discount     decimal.Decimal        `json:"discount"`
}

func (h *Handler) createQuote(ctx context.Context, req request, conversationID string) events.APIGatewayProxyResponse {
	var body createQuoteRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	items := make([]usecase.QuoteItemInput, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, usecase.QuoteItemInput{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	q, err := h.svc.Quotes.CreateQuote(ctx, usecase.CreateQuoteInput{
		ConversationID: conversationID,
		IssuerID:       req.UserID,
		Customer:       body.Customer,
		Shipping:       body.Shipping,
		Items:          items,
		ShippingCost:   body.ShippingCost,
		Discount:       body.Discount,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusCreated, q)
}

type advanceQuoteRequest struct {
	Status domain.QuoteStatus `json:"status"`
}

func (h *Handler) advanceQuote(ctx context.Context, req request, quoteID string) events.APIGatewayProxyResponse {
	var body advanceQuoteRequest
	if err := decodeBody(req, &body); err != nil {
		return h.fail(ctx, err)
	}
	q, err := h.svc.Quotes.AdvanceStatus(ctx, quoteID, body.Status)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(http.StatusOK, q)
}
