package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
)

// audit appends one entry to the audit log. The log is advisory relative to
// the order state: a failed write is reported on the operational log channel
// and never rolls back or fails the transition that produced it.
func (s *Service) audit(ctx context.Context, actor string, action domain.AuditAction, entityType, entityID, detail string) {
	entry := domain.AuditLogEntry{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.AppendAuditLog(ctx, entry); err != nil {
		log.Printf("level=error component=audit msg=\"audit append failed; transition unaffected\" actor=%s action=%s entity_id=%s err=%v", actor, action, entityID, err)
	}
}
