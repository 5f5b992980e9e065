// Package consumer ingests the cross-service notifications that drive
// the market: transfer approvals from collection services and inbound
// fungible-token transfers from the payment service.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/libs/kafka"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/market"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

const dedupeWindow = 4096

// ApprovalGrantedEvent is a collection service notifying the market of
// a transfer approval. CollectionID is the emitting service's account.
type ApprovalGrantedEvent struct {
	kafka.Envelope
	CollectionID string          `json:"collection_id"`
	AssetID      string          `json:"asset_id"`
	OwnerID      string          `json:"owner_id"`
	ApprovalID   uint64          `json:"approval_id"`
	SignerID     string          `json:"signer_id"`
	Terms        json.RawMessage `json:"msg"`
}

// FTTransferEvent is the payment service reporting tokens delivered to
// the market account. Funds have already moved when this arrives, so a
// purchase that cannot proceed must be refunded explicitly.
type FTTransferEvent struct {
	kafka.Envelope
	TokenID  string          `json:"token_id"`
	SenderID string          `json:"sender_id"`
	Amount   decimal.Decimal `json:"amount"`
	Msg      string          `json:"msg"`
}

type Handler struct {
	market         *market.Market
	approvalsTopic string
	transfersTopic string
	logger         *slog.Logger
	seen           *eventDeduper
}

func NewHandler(m *market.Market, approvalsTopic, transfersTopic string, logger *slog.Logger) (*Handler, error) {
	if m == nil {
		return nil, fmt.Errorf("market is required")
	}
	if approvalsTopic == "" || transfersTopic == "" {
		return nil, fmt.Errorf("approvals and transfers topics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		market:         m,
		approvalsTopic: approvalsTopic,
		transfersTopic: transfersTopic,
		logger:         logger,
		seen:           newEventDeduper(dedupeWindow),
	}, nil
}

func (h *Handler) Topics() []string {
	return []string{h.approvalsTopic, h.transfersTopic}
}

func (h *Handler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case h.approvalsTopic:
		return h.handleApproval(ctx, msg)
	case h.transfersTopic:
		return h.handleTransfer(ctx, msg)
	default:
		return kafka.DLQ(fmt.Errorf("no handler for topic %s", msg.Topic), "unroutable_topic")
	}
}

func (h *Handler) handleApproval(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event ApprovalGrantedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode approval event: %w", err), "decode_failed")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(fmt.Errorf("approval envelope: %w", err), "invalid_envelope")
	}
	if h.seen.observed(event.EventID) {
		h.logger.Debug("duplicate approval event skipped", "event_id", event.EventID)
		return nil
	}

	_, err := h.market.OnApproval(ctx, market.ApprovalNotice{
		CollectionID: event.CollectionID,
		AssetID:      event.AssetID,
		OwnerID:      event.OwnerID,
		ApprovalID:   event.ApprovalID,
		SignerID:     event.SignerID,
		Terms:        event.Terms,
	})
	if err != nil {
		// Listing preconditions never heal on redelivery.
		return kafka.DLQ(fmt.Errorf("approval for %s.%s: %w", event.CollectionID, event.AssetID, err), "listing_rejected")
	}
	return nil
}

func (h *Handler) handleTransfer(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event FTTransferEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode transfer event: %w", err), "decode_failed")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(fmt.Errorf("transfer envelope: %w", err), "invalid_envelope")
	}
	if h.seen.observed(event.EventID) {
		h.logger.Debug("duplicate transfer event skipped", "event_id", event.EventID)
		return nil
	}

	unused, err := h.market.FTOnTransfer(ctx, event.TokenID, event.SenderID, event.Amount, event.Msg)
	if unused.IsPositive() {
		h.market.RefundTransfer(ctx, event.SenderID, event.TokenID, unused, "transfer returned", event.EventID)
	}
	if err != nil && !errors.Is(err, registry.ErrSaleNotFound) {
		// The refund is already on its way; record why the purchase
		// could not proceed.
		return kafka.DLQ(fmt.Errorf("transfer from %s: %w", event.SenderID, err), "purchase_rejected")
	}
	if err != nil {
		h.logger.Warn("transfer refunded, sale gone", "sender", event.SenderID, "event_id", event.EventID)
	}
	return nil
}

// eventDeduper remembers the last windowSize event IDs so redelivered
// events are applied at most once per process.
type eventDeduper struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

func newEventDeduper(limit int) *eventDeduper {
	return &eventDeduper{
		ids:   make(map[string]struct{}, limit),
		limit: limit,
	}
}

func (d *eventDeduper) observed(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return true
	}
	d.ids[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		delete(d.ids, d.order[0])
		d.order = d.order[1:]
	}
	return false
}
