package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parrrate/cqrs/core/cqrs"
	"github.com/parrrate/cqrs/internal/reflector"
)

// ViewStore implements the view storage port for one view type V. Updates
// are guarded by the stored version: an UPDATE that matches no row means
// another writer advanced the view first.
type ViewStore[V any] struct {
	db       *sql.DB
	viewType string
}

func NewViewStore[V any](db *sql.DB) *ViewStore[V] {
	return &ViewStore[V]{
		db:       db,
		viewType: reflector.TypeInfoFor[V]().Name,
	}
}

func (s *ViewStore[V]) LoadView(ctx context.Context, viewID string) (*V, cqrs.QueryContext, error) {
	var (
		version uint64
		payload []byte
		rawCtx  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload, context FROM views WHERE view_type = ? AND view_id = ?`,
		s.viewType, viewID).Scan(&version, &payload, &rawCtx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cqrs.QueryContext{}, cqrs.ErrViewNotFound
		}
		return nil, cqrs.QueryContext{}, fmt.Errorf("query view %q: %w", viewID, err)
	}

	view := new(V)
	if err := json.Unmarshal(payload, view); err != nil {
		return nil, cqrs.QueryContext{}, fmt.Errorf("decode view %q: %w", viewID, err)
	}
	var qctx cqrs.QueryContext
	if err := json.Unmarshal(rawCtx, &qctx); err != nil {
		return nil, cqrs.QueryContext{}, fmt.Errorf("decode view context %q: %w", viewID, err)
	}
	qctx.Version = version
	return view, qctx, nil
}

func (s *ViewStore[V]) UpdateView(ctx context.Context, view *V, qctx cqrs.QueryContext) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view %q: %w", qctx.ViewID, err)
	}
	rawCtx, err := json.Marshal(&qctx)
	if err != nil {
		return fmt.Errorf("encode view context %q: %w", qctx.ViewID, err)
	}

	if qctx.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO views (view_type, view_id, version, payload, context) VALUES (?, ?, 1, ?, ?)`,
			s.viewType, qctx.ViewID, payload, rawCtx)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: view %s already exists", cqrs.ErrAggregateConflict, qctx.ViewID)
			}
			return fmt.Errorf("insert view %q: %w", qctx.ViewID, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE views SET version = version + 1, payload = ?, context = ?
		 WHERE view_type = ? AND view_id = ? AND version = ?`,
		payload, rawCtx, s.viewType, qctx.ViewID, qctx.Version)
	if err != nil {
		return fmt.Errorf("update view %q: %w", qctx.ViewID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: view %s moved past version %d", cqrs.ErrAggregateConflict, qctx.ViewID, qctx.Version)
	}
	return nil
}

var _ cqrs.ViewRepository[struct{}] = (*ViewStore[struct{}])(nil)

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
