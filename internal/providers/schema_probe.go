package providers

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
)

// SchemaProbe answers column existence checks. information_schema is asked
// first through sqlx; when that fails the GORM migrator is used instead.
type SchemaProbe struct {
	db  *sqlx.DB
	orm *gorm.DB
}

func NewSchemaProbe(db *sqlx.DB, orm *gorm.DB) *SchemaProbe {
	return &SchemaProbe{db: db, orm: orm}
}

func (p *SchemaProbe) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	if p.db != nil {
		var exists bool
		err := p.db.GetContext(ctx, &exists, constants.ColumnExistsQuery, table, column)
		if err == nil {
			return exists, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logging.Debug("Primary column probe failed, using migrator",
			"table", table,
			"column", column,
			"error", err.Error(),
		)
	}

	if p.orm == nil {
		return false, newError(constants.ErrCodeProbeFailed, table+"."+column, errors.New("no probe available"))
	}

	// HasColumn swallows errors, so make sure the database answers first
	sqlDB, err := p.orm.DB()
	if err != nil {
		return false, newError(constants.ErrCodeProbeFailed, table+"."+column, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return false, newError(constants.ErrCodeProbeFailed, table+"."+column, err)
	}

	return p.orm.WithContext(ctx).Migrator().HasColumn(table, column), nil
}
