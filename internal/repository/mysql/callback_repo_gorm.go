package mysql

import (
	"context"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type callbackLogRepo struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewCallbackLogRepository(db *gorm.DB, node *snowflake.Node) repository.CallbackLogRepository {
	return &callbackLogRepo{db: db, node: node}
}

// Record always writes outside any caller transaction so an audit row
// survives a rolled-back fulfillment.
func (r *callbackLogRepo) Record(ctx context.Context, e *domain.CallbackEvent) error {
	if e.ID == 0 {
		e.ID = r.node.Generate()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(e).Error
}
