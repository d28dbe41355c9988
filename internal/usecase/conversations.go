package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/repository"
)

type ConversationService struct {
	store   ConversationStore
	bridge  *Bridge
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type CreateConversationInput struct {
	CustomerID string
	ProductID  string
	// ProviderID is set when the customer already knows the provider.
	ProviderID string
}

func NewConversationService(store ConversationStore, bridge *Bridge, log zerolog.Logger, m *metrics.Metrics) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	return &ConversationService{
		store:   store,
		bridge:  bridge,
		log:     log.With().Str("component", "conversations").Logger(),
		metrics: m,
	}, nil
}

// Create inserts a new conversation and notifies the known provider, or all
// providers when there is none.
func (s *ConversationService) Create(ctx context.Context, in CreateConversationInput) (domain.Conversation, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_customer_id", nil)
	}
	ts := now()
	conv := domain.Conversation{
		ID:         newUUID(),
		CustomerID: customerID,
		ProviderID: strings.TrimSpace(in.ProviderID),
		ProductID:  strings.TrimSpace(in.ProductID),
		Status:     domain.ConversationActive,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, newError(ErrorPersistence, "conversation_write_error", err)
	}
	s.log.Info().Str("conversation_id", conv.ID).Str("customer_id", customerID).Bool("claimed", conv.Claimed()).Msg("conversation created")
	s.bridge.PublishNewConversation(ctx, conv.ProviderID, conv)
	return conv, nil
}

// Claim attaches providerID to an unclaimed conversation. A conversation that
// already has a provider, including providerID itself, yields ALREADY_CLAIMED.
// Claims are never retried here.
func (s *ConversationService) Claim(ctx context.Context, conversationID, providerID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	providerID = strings.TrimSpace(providerID)
	if conversationID == "" || providerID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_claim_ids", nil)
	}
	conv, err := s.store.ClaimConversation(ctx, conversationID, providerID, now())
	switch {
	case err == nil:
		s.metrics.Claim(metrics.ClaimWon)
		s.log.Info().Str("conversation_id", conversationID).Str("provider_id", providerID).Msg("conversation claimed")
		return conv, nil
	case errors.Is(err, repository.ErrConditionFailed):
		s.metrics.Claim(metrics.ClaimTaken)
		s.log.Info().Str("conversation_id", conversationID).Str("provider_id", providerID).Msg("claim lost")
		return domain.Conversation{}, newError(ErrorAlreadyClaimed, "conversation_already_claimed", err)
	case errors.Is(err, repository.ErrNotFound):
		s.metrics.Claim(metrics.ClaimNotFound)
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", err)
	default:
		s.metrics.Claim(metrics.ClaimError)
		return domain.Conversation{}, newError(ErrorPersistence, "claim_write_error", err)
	}
}

// ListVisible returns the customer's own conversations, or every conversation
// for a provider, most recently updated first.
func (s *ConversationService) ListVisible(ctx context.Context, userID string, role domain.Role) ([]domain.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	var (
		convs []domain.Conversation
		err   error
	)
	switch role {
	case domain.RoleCustomer:
		convs, err = s.store.ListConversationsByCustomer(ctx, userID)
	case domain.RoleProvider:
		convs, err = s.store.ListAllConversations(ctx)
	default:
		return nil, newError(ErrorInvalidInput, "invalid_role", nil)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "conversation_list_error", err)
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storeError(err, "conversation")
	}
	return conv, nil
}

func (s *ConversationService) UpdateSettings(ctx context.Context, conversationID string, set domain.ConversationSettings) (domain.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if set.TemporaryHours != nil && *set.TemporaryHours < 0 {
		return domain.Conversation{}, newError(ErrorInvalidInput, "negative_temporary_hours", nil)
	}
	if set.ClearMute && set.MutedUntil != nil {
		return domain.Conversation{}, newError(ErrorInvalidInput, "conflicting_mute_settings", nil)
	}
	conv, err := s.store.UpdateConversationSettings(ctx, conversationID, set, now())
	if err != nil {
		return domain.Conversation{}, storeError(err, "conversation")
	}
	return conv, nil
}

type ReportInput struct {
	ConversationID string
	ReporterID     string
	Reason         domain.ReportReason
	Description    string
}

// Report files a complaint about the conversation for moderators. Only its
// participants may report it.
func (s *ConversationService) Report(ctx context.Context, in ReportInput) (domain.Report, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	reporterID := strings.TrimSpace(in.ReporterID)
	if conversationID == "" || reporterID == "" {
		return domain.Report{}, newError(ErrorInvalidInput, "missing_report_ids", nil)
	}
	if !in.Reason.Valid() {
		return domain.Report{}, newError(ErrorInvalidInput, "invalid_report_reason", nil)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return domain.Report{}, newError(ErrorInvalidInput, "missing_report_description", nil)
	}
	if _, err := s.participantConversation(ctx, conversationID, reporterID); err != nil {
		return domain.Report{}, err
	}

	r := domain.Report{
		ID:             newUUID(),
		ConversationID: conversationID,
		ReporterID:     reporterID,
		Reason:         in.Reason,
		Description:    description,
		CreatedAt:      now(),
	}
	if err := s.store.InsertReport(ctx, r); err != nil {
		return domain.Report{}, storeError(err, "report")
	}
	s.log.Warn().
		Str("conversation_id", conversationID).
		Str("reported_by", reporterID).
		Str("reason", string(r.Reason)).
		Msg("conversation reported")
	return r, nil
}

// SetBlocked blocks or unblocks the conversation on behalf of one of its
// participants. It stays blocked while any participant still blocks it.
func (s *ConversationService) SetBlocked(ctx context.Context, conversationID, userID string, blocked bool) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_block_ids", nil)
	}
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return domain.Conversation{}, err
	}
	conv, err := s.store.SetConversationBlocked(ctx, conversationID, userID, blocked, now())
	if err != nil {
		return domain.Conversation{}, storeError(err, "conversation")
	}
	s.log.Info().Str("conversation_id", conversationID).Str("user_id", userID).Bool("blocked", blocked).Msg("conversation block changed")
	return conv, nil
}

func (s *ConversationService) participantConversation(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storeError(err, "conversation")
	}
	if !conv.Participant(userID) {
		return domain.Conversation{}, newError(ErrorNotParticipant, "not_a_participant", nil)
	}
	return conv, nil
}

// Delete removes the conversation with everything it owns.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return storeError(err, "conversation")
	}
	s.log.Info().Str("conversation_id", conversationID).Msg("conversation deleted")
	return nil
}
