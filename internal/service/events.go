package service

import (
	"context"
	"encoding/json"

	"voucherledger/internal/model"
	"voucherledger/internal/repository"

	"gorm.io/gorm"
)

// ActorSystem stamps audit events produced by background sweeps rather
// than an operator request.
const ActorSystem int64 = 0

// eventWriter writes the two records that accompany every state-changing
// operation: the notification outbox message and the audit event. Both go
// into the caller's database transaction so they commit or roll back with
// the ledger mutation itself.
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
	auditRepo  *repository.AuditRepository
}

func newEventWriter(db *gorm.DB) *eventWriter {
	return &eventWriter{
		outboxRepo: repository.NewOutboxRepository(db),
		auditRepo:  repository.NewAuditRepository(db),
	}
}

func (w *eventWriter) notify(ctx context.Context, tx *gorm.DB, topic, key, event string, payload map[string]interface{}) error {
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = event

	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return w.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	})
}

func (w *eventWriter) audit(ctx context.Context, tx *gorm.DB, actorID int64, action, entityType string, entityID int64, metadata map[string]interface{}) error {
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	return w.auditRepo.Append(ctx, tx, &model.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   string(metadataBytes),
	})
}
