package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
)

// ColumnChecker reports whether an optional column exists
type ColumnChecker interface {
	Has(ctx context.Context, table, column string) (bool, error)
}

// optionalColumns may be missing on older deployments
var optionalColumns = map[entities.Kind][]string{
	entities.KindOrder: {constants.ColumnVisible},
	entities.KindTour:  {constants.ColumnVisible},
}

// GormSource is the DataSource backed by the booking tables
type GormSource struct {
	db        *gorm.DB
	publisher Publisher
	columns   ColumnChecker
	now       func() time.Time
}

var _ DataSource = (*GormSource)(nil)

// NewGormSource creates the source. publisher may be nil when the database
// emits change events itself.
func NewGormSource(db *gorm.DB, publisher Publisher, columns ColumnChecker) *GormSource {
	return &GormSource{db: db, publisher: publisher, columns: columns, now: time.Now}
}

func newModel(kind entities.Kind) (interface{}, error) {
	switch kind {
	case entities.KindOrder:
		return &gormModels.Order{}, nil
	case entities.KindTour:
		return &gormModels.Tour{}, nil
	case entities.KindPassenger:
		return &gormModels.Passenger{}, nil
	}
	return nil, newError(constants.ErrCodeUnknownKind, string(kind), nil)
}

func newModelSlice(kind entities.Kind) (interface{}, error) {
	switch kind {
	case entities.KindOrder:
		return &[]gormModels.Order{}, nil
	case entities.KindTour:
		return &[]gormModels.Tour{}, nil
	case entities.KindPassenger:
		return &[]gormModels.Passenger{}, nil
	}
	return nil, newError(constants.ErrCodeUnknownKind, string(kind), nil)
}

// stamp returns a version timestamp at the precision Postgres stores
func (s *GormSource) stamp(after time.Time) time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(after) {
		ts = after.UTC().Add(time.Microsecond)
	}
	return ts
}

func (s *GormSource) parseSchema(model interface{}) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("failed to parse model schema: %w", err)
	}
	return stmt.Schema, nil
}

// missingColumns returns the optional columns this deployment lacks
func (s *GormSource) missingColumns(ctx context.Context, kind entities.Kind) []string {
	if s.columns == nil {
		return nil
	}
	var missing []string
	for _, column := range optionalColumns[kind] {
		ok, err := s.columns.Has(ctx, kind.Table(), column)
		if err == nil && !ok {
			missing = append(missing, column)
		}
	}
	return missing
}

func (s *GormSource) Fetch(ctx context.Context, kind entities.Kind, filter FetchFilter) ([]entities.Record, error) {
	model, err := newModel(kind)
	if err != nil {
		return nil, err
	}
	sch, err := s.parseSchema(model)
	if err != nil {
		return nil, err
	}
	out, err := newModelSlice(kind)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(model)
	missing := s.missingColumns(ctx, kind)
	if len(missing) > 0 {
		q = q.Omit(missing...)
	}

	if len(filter.Statuses) > 0 {
		field := filter.StatusField
		if field == "" {
			field = constants.ColumnStatus
		}
		if _, ok := sch.FieldsByDBName[field]; !ok {
			return nil, Validation("%s has no column %s", kind.Table(), field)
		}
		q = q.Where(fmt.Sprintf("%s IN ?", field), filter.Statuses)
	}

	if filter.RequireVisible {
		field := filter.VisibleField
		if field == "" {
			field = constants.ColumnVisible
		}
		if !contains(missing, field) {
			q = q.Where(fmt.Sprintf("(%s IS NULL OR %s = ?)", field, field), true)
		}
	}

	if err := q.Order("id").Find(out).Error; err != nil {
		return nil, s.translate(ctx, err)
	}
	return toRecords(kind, out)
}

func (s *GormSource) Get(ctx context.Context, kind entities.Kind, id string) (entities.Record, error) {
	model, err := newModel(kind)
	if err != nil {
		return entities.Record{}, err
	}
	q := s.db.WithContext(ctx)
	if missing := s.missingColumns(ctx, kind); len(missing) > 0 {
		q = q.Omit(missing...)
	}
	if err := q.Where("id = ?", id).First(model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Record{}, NotFound(kind.Table(), id)
		}
		return entities.Record{}, s.translate(ctx, err)
	}
	return entities.ToRecord(kind, model)
}

func (s *GormSource) Update(ctx context.Context, kind entities.Kind, id string, patch entities.Patch, expected time.Time) (entities.Record, error) {
	model, err := newModel(kind)
	if err != nil {
		return entities.Record{}, err
	}
	if len(patch) == 0 {
		return entities.Record{}, Validation("patch has no fields")
	}
	columns, err := s.columnValues(model, patch)
	if err != nil {
		return entities.Record{}, err
	}

	var previous, current entities.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, _ := newModel(kind)
		if err := tx.Where("id = ?", id).First(prev).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound(kind.Table(), id)
			}
			return err
		}
		if previous, err = entities.ToRecord(kind, prev); err != nil {
			return err
		}

		columns[constants.ColumnUpdatedAt] = s.stamp(previous.UpdatedAt)
		q := tx.Model(model).Where("id = ?", id)
		if !expected.IsZero() {
			q = q.Where("updated_at = ?", expected.UTC())
		}
		res := q.Updates(columns)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(constants.ErrCodeStaleWrite,
				fmt.Sprintf("%s %s expected version %s, stored %s", kind.Table(), id,
					expected.UTC().Format(time.RFC3339Nano), previous.UpdatedAt.Format(time.RFC3339Nano)), nil)
		}

		cur, _ := newModel(kind)
		if err := tx.Where("id = ?", id).First(cur).Error; err != nil {
			return err
		}
		current, err = entities.ToRecord(kind, cur)
		return err
	})
	if err != nil {
		return entities.Record{}, s.translate(ctx, err)
	}

	s.publish(ctx, entities.ChangeEvent{
		Table:      kind.Table(),
		Kind:       entities.ChangeUpdate,
		Previous:   &previous,
		Current:    &current,
		CommitTime: current.UpdatedAt,
	})
	return current, nil
}

func (s *GormSource) Insert(ctx context.Context, rec entities.Record) (entities.Record, error) {
	model, err := newModel(rec.Kind)
	if err != nil {
		return entities.Record{}, err
	}
	if rec.ID == "" {
		return entities.Record{}, Validation("record has no id")
	}
	if _, err := s.columnValues(model, entities.Patch(rec.Fields)); err != nil {
		return entities.Record{}, err
	}

	rec = rec.Clone()
	rec.UpdatedAt = s.stamp(time.Time{})
	if err := entities.FromRecord(rec, model); err != nil {
		return entities.Record{}, Validation("%v", err)
	}

	var current entities.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(model).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return newError(constants.ErrCodeAlreadyExists, fmt.Sprintf("%s %s", rec.Kind.Table(), rec.ID), nil)
		}
		q := tx
		if missing := s.missingColumns(ctx, rec.Kind); len(missing) > 0 {
			q = q.Omit(missing...)
		}
		if err := q.Create(model).Error; err != nil {
			return err
		}
		current, err = entities.ToRecord(rec.Kind, model)
		return err
	})
	if err != nil {
		return entities.Record{}, s.translate(ctx, err)
	}

	s.publish(ctx, entities.ChangeEvent{
		Table:      rec.Kind.Table(),
		Kind:       entities.ChangeInsert,
		Current:    &current,
		CommitTime: current.UpdatedAt,
	})
	return current, nil
}

func (s *GormSource) Delete(ctx context.Context, kind entities.Kind, id string) error {
	model, err := newModel(kind)
	if err != nil {
		return err
	}

	var previous entities.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, _ := newModel(kind)
		if err := tx.Where("id = ?", id).First(prev).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound(kind.Table(), id)
			}
			return err
		}
		if previous, err = entities.ToRecord(kind, prev); err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(model).Error
	})
	if err != nil {
		return s.translate(ctx, err)
	}

	s.publish(ctx, entities.ChangeEvent{
		Table:      kind.Table(),
		Kind:       entities.ChangeDelete,
		Previous:   &previous,
		CommitTime: s.now().UTC(),
	})
	return nil
}

func (s *GormSource) publish(ctx context.Context, ev entities.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		// The write already committed; subscribers catch up on the next reload
		logging.Warn("Failed to publish change event",
			"table", ev.Table,
			"kind", string(ev.Kind),
			"entity_id", ev.EntityID(),
			"error", err.Error(),
		)
	}
}

// translate keeps provider and context errors and wraps everything else as unavailable
func (s *GormSource) translate(ctx context.Context, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return Unavailable(err)
}

// columnValues checks every patch field against the model and converts
// JSON-shaped values to the column's Go type
func (s *GormSource) columnValues(model interface{}, patch entities.Patch) (map[string]interface{}, error) {
	sch, err := s.parseSchema(model)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(patch))
	for name, value := range patch {
		if name == "id" || name == constants.ColumnUpdatedAt {
			return nil, Validation("field %s is read-only", name)
		}
		field, ok := sch.FieldsByDBName[name]
		if !ok {
			return nil, Validation("%s has no field %s", sch.Table, name)
		}
		converted, err := coerce(field.FieldType, value)
		if err != nil {
			return nil, Validation("field %s: %v", name, err)
		}
		out[name] = converted
	}
	return out, nil
}

func coerce(t reflect.Type, value interface{}) (interface{}, error) {
	if t.Kind() == reflect.Ptr {
		if value == nil {
			return nil, nil
		}
		return coerce(t.Elem(), value)
	}
	if value == nil {
		return nil, fmt.Errorf("cannot be null")
	}

	switch t.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected a whole number, got %v", n)
			}
			return int64(n), nil
		}
	case reflect.Float32, reflect.Float64:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t.Kind(), value)
}

func toRecords(kind entities.Kind, slice interface{}) ([]entities.Record, error) {
	v := reflect.ValueOf(slice).Elem()
	out := make([]entities.Record, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		rec, err := entities.ToRecord(kind, v.Index(i).Addr().Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
