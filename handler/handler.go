package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/integrations/blobstore"
	"negotiation-chat/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"
	headerUserRole      = "X-User-Role"

	codeInternal = "INTERNAL"

	defaultMaxAttachmentBytes = 10 << 20
)

type ConversationUseCase interface {
	Create(ctx context.Context, in usecase.CreateConversationInput) (domain.Conversation, error)
	Claim(ctx context.Context, conversationID, providerID string) (domain.Conversation, error)
	ListVisible(ctx context.Context, userID string, role domain.Role) ([]domain.Conversation, error)
	UpdateSettings(ctx context.Context, conversationID string, set domain.ConversationSettings) (domain.Conversation, error)
	Delete(ctx context.Context, conversationID string) error
	Report(ctx context.Context, in usecase.ReportInput) (domain.Report, error)
	SetBlocked(ctx context.Context, conversationID, userID string, blocked bool) (domain.Conversation, error)
}

type MessageUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

type TypingUseCase interface {
	SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
}

type QuoteUseCase interface {
	CreateQuote(ctx context.Context, in usecase.CreateQuoteInput) (domain.Quote, error)
	AdvanceStatus(ctx context.Context, quoteID string, to domain.QuoteStatus) (domain.Quote, error)
	ListForConversation(ctx context.Context, conversationID string, withItems bool) ([]domain.Quote, error)
}

type AttachmentStore interface {
	Enabled() bool
	Upload(ctx context.Context, key string, data []byte) (blobstore.Object, error)
	Remove(ctx context.Context, key string) error
}

// Services groups the use cases behind the API. Attachments may be nil.
type Services struct {
	Conversations ConversationUseCase
	Messages      MessageUseCase
	Typing        TypingUseCase
	Quotes        QuoteUseCase
	Attachments   AttachmentStore
}

type Handler struct {
	svc                Services
	log                zerolog.Logger
	maxAttachmentBytes int64
}

type Option func(*Handler)

func WithMaxAttachmentBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAttachmentBytes = n
		}
	}
}

func NewHandler(svc Services, log zerolog.Logger, opts ...Option) (*Handler, error) {
	if svc.Conversations == nil || svc.Messages == nil || svc.Typing == nil || svc.Quotes == nil {
		return nil, errors.New("handler: conversation, message, typing and quote use cases are required")
	}
	h := &Handler{svc: svc, log: log.With().Str("component", "api").Logger(), maxAttachmentBytes: defaultMaxAttachmentBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// identity is set by the upstream authorizer.
type identity struct {
	UserID string
	Role   domain.Role
}

type request struct {
	events.APIGatewayProxyRequest
	identity
	segments []string
}

// Handle serves one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := header(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With().Str("correlation_id", correlationID).Logger()
	ctx = log.WithContext(ctx)

	req := request{
		APIGatewayProxyRequest: event,
		identity: identity{
			UserID: header(event.Headers, headerUserID),
			Role:   domain.Role(strings.ToLower(header(event.Headers, headerUserRole))),
		},
		segments: splitPath(event.Path),
	}

	var resp events.APIGatewayProxyResponse
	if req.UserID == "" {
		resp = failure(&usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_user_id"})
	} else {
		resp = h.route(ctx, req)
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[headerCorrelationID] = correlationID

	log.Info().
		Str("method", event.HTTPMethod).
		Str("path", event.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request served")
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req request) events.APIGatewayProxyResponse {
	seg := req.segments
	method := strings.ToUpper(req.HTTPMethod)
	switch {
	case len(seg) == 1 && seg[0] == "conversations":
		switch method {
		case http.MethodPost:
			return h.createConversation(ctx, req)
		case http.MethodGet:
			return h.listConversations(ctx, req)
		}
	case len(seg) == 2 && seg[0] == "conversations":
		switch method {
		case http.MethodPatch:
			return h.updateSettings(ctx, req, seg[1])
		case http.MethodDelete:
			return h.deleteConversation(ctx, seg[1])
		}
	case len(seg) == 3 && seg[0] == "conversations":
		id := seg[1]
		switch seg[2] + " " + method {
		case "claim POST":
			return h.claim(ctx, req, id)
		case "report POST":
			return h.report(ctx, req, id)
		case "block PUT":
			return h.setBlocked(ctx, req, id)
		case "messages GET":
			return h.listMessages(ctx, id)
		case "messages POST":
			return h.sendMessage(ctx, req, id)
		case "read POST":
			return h.markRead(ctx, req, id)
		case "typing PUT":
			return h.setTyping(ctx, req, id)
		case "attachments POST":
			return h.uploadAttachment(ctx, req, id)
		case "attachments DELETE":
			return h.discardAttachment(ctx, req, id)
		case "quotes GET":
			return h.listQuotes(ctx, req, id)
		case "quotes POST":
			return h.createQuote(ctx, req, id)
		}
	case len(seg) == 3 && seg[0] == "quotes" && seg[2] == "status" && method == http.MethodPost:
		return h.advanceQuote(ctx, req, seg[1])
	}
	return failure(&usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"})
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// header looks a header up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func decodeBody(req request, dst any) *usecase.Error {
	if strings.TrimSpace(req.Body) == "" {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_body"}
	}
	if err := json.Unmarshal([]byte(req.Body), dst); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}
	}
	return nil
}

func respond(status int, body any) events.APIGatewayProxyResponse {
	headers := map[string]string{"Content-Type": "application/json"}
	if body == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	b, err := json.Marshal(body)
	if err != nil {
		b, _ = json.Marshal(errorResponse{Error: codeInternal})
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}

func (h *Handler) fail(ctx context.Context, err error) events.APIGatewayProxyResponse {
	resp := failure(err)
	if resp.StatusCode >= http.StatusInternalServerError {
		zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
	return resp
}

// failure maps an error to its HTTP response. Expected races and partial
// writes carry a message meant for the end user.
func failure(err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return respond(http.StatusInternalServerError, errorResponse{Error: codeInternal})
	}
	body := errorResponse{Error: string(ue.Code), Message: ue.Reason}
	status := http.StatusInternalServerError
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorAlreadyClaimed:
		status = http.StatusConflict
		body.Message = "this conversation is already being handled by someone else"
	case usecase.ErrorInvalidTransition:
		status = http.StatusConflict
	case usecase.ErrorBlocked:
		status = http.StatusForbidden
		body.Message = "this conversation has been blocked"
	case usecase.ErrorNotParticipant:
		status = http.StatusForbidden
	case usecase.ErrorPartialQuoteWrite:
		body.Message = "quote creation failed, please retry"
	case usecase.ErrorPersistence:
		if ue.Reason == "message_write_error" {
			body.Message = "failed to send, your draft is preserved"
		}
	}
	return respond(status, body)
}
