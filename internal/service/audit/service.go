package audit

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwalitptl/telehealth-api/internal/model"
)

// Service writes the PHI access and state change trail. Entries go to a
// dedicated zap logger so they can be shipped separately from operational logs.
type Service struct {
	log     *zap.Logger
	enabled bool
}

func NewService(logger *zap.Logger, enabled bool) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{log: logger.With(zap.String("stream", "audit")), enabled: enabled}
}

// NewLogger builds the production JSON logger used for the audit stream
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	return cfg.Build()
}

type LogOptions struct {
	Changes  interface{}
	Metadata map[string]interface{}
}

// Log records that actor performed action on the entity
func (s *Service) Log(ctx context.Context, actor model.Principal, action, entityType string, entityID uuid.UUID, opts *LogOptions) {
	if s == nil || !s.enabled {
		return
	}

	fields := []zap.Field{
		zap.String("actor_id", actor.UserID.String()),
		zap.String("actor_role", string(actor.Role)),
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID.String()),
	}

	if gc, ok := ctx.(*gin.Context); ok {
		fields = append(fields,
			zap.String("ip_address", gc.ClientIP()),
			zap.String("user_agent", gc.GetHeader("User-Agent")),
			zap.String("request_id", gc.GetString("request_id")),
		)
	}

	if opts != nil {
		if opts.Changes != nil {
			fields = append(fields, zap.Any("changes", opts.Changes))
		}
		for k, v := range opts.Metadata {
			fields = append(fields, zap.Any(k, v))
		}
	}

	s.log.Info("audit", fields...)
}

func (s *Service) Sync() error {
	if s == nil {
		return nil
	}
	return s.log.Sync()
}
