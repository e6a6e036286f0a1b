package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stale reports whether a reference bound at bound is no longer at the
// target's latest snapshot. Pure; the derived flag is never stored.
func Stale(bound, latest int64) bool {
	return bound != latest
}

// Bind records a reference from owner to target at the target's current
// snapshot and returns both the reference and the resolved target state.
// Dependents bound this way are insulated from later edits of the target
// until Sync is called.
func (s *Store) Bind(ctx context.Context, req BindRequest) (Reference, Resource, error) {
	if req.Relation == "" {
		return Reference{}, Resource{}, fmt.Errorf("%w: relation is required", ErrValidation)
	}

	owner, err := s.GetCurrent(ctx, req.OwnerID)
	if err != nil {
		return Reference{}, Resource{}, err
	}
	target, err := s.GetCurrent(ctx, req.TargetID)
	if err != nil {
		return Reference{}, Resource{}, err
	}

	if req.SubSelection != "" {
		names, err := taskNamesForTarget(target.Kind, target.Payload)
		if err != nil {
			return Reference{}, Resource{}, err
		}
		if !containsName(names, req.SubSelection) {
			return Reference{}, Resource{}, fmt.Errorf("%w: %q does not name a task in %s %q", ErrValidation, req.SubSelection, target.Kind, target.Name)
		}
	}

	now := time.Now().UTC()
	model := referenceModel{
		ID:               uuid.New(),
		OwnerID:          owner.ID,
		TargetID:         target.ID,
		TargetSnapshotID: target.Snapshot,
		Relation:         req.Relation,
		SubSelection:     req.SubSelection,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Reference{}, Resource{}, err
	}
	return model.toAPI(false, false), target, nil
}

// Resolve loads the referenced resource as of the bound snapshot. If the
// target's identity no longer exists the reference is broken and resolution
// fails with ErrDanglingReference.
func (s *Store) Resolve(ctx context.Context, referenceID uuid.UUID) (Snapshot, error) {
	ref, err := s.getReference(ctx, referenceID)
	if err != nil {
		return Snapshot{}, err
	}

	if err := s.targetExists(ctx, ref.TargetID); err != nil {
		return Snapshot{}, err
	}
	return s.GetAsOf(ctx, ref.TargetID, ref.TargetSnapshotID)
}

// IsStale reports whether the reference's bound snapshot trails the target's
// latest. A missing target surfaces as ErrDanglingReference.
func (s *Store) IsStale(ctx context.Context, referenceID uuid.UUID) (bool, error) {
	ref, err := s.getReference(ctx, referenceID)
	if err != nil {
		return false, err
	}

	var target resourceModel
	err = s.orm.WithContext(ctx).Select("snapshot_id").First(&target, "id = ?", ref.TargetID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, fmt.Errorf("%w: target %s no longer exists", ErrDanglingReference, ref.TargetID)
	case err != nil:
		return false, err
	}
	return Stale(ref.TargetSnapshotID, target.SnapshotID), nil
}

// Sync re-binds the reference to the target's current latest snapshot. When
// the reference carried a sub-selection that no longer exists in the new
// snapshot, the sub-selection is cleared and a non-nil warning is returned
// alongside the updated reference.
func (s *Store) Sync(ctx context.Context, referenceID uuid.UUID) (Reference, *SubSelectionLostWarning, error) {
	var (
		out     referenceModel
		warning *SubSelectionLostWarning
	)
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref referenceModel
		err := tx.First(&ref, "id = ?", referenceID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: reference %s", ErrNotFound, referenceID)
		case err != nil:
			return err
		}

		var target resourceModel
		err = tx.First(&target, "id = ?", ref.TargetID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: target %s no longer exists", ErrDanglingReference, ref.TargetID)
		case err != nil:
			return err
		}

		sub := ref.SubSelection
		if sub != "" {
			names, err := taskNamesForTarget(Kind(target.Kind), mapFromJSONMap(target.Payload))
			if err != nil {
				return err
			}
			if !containsName(names, sub) {
				warning = &SubSelectionLostWarning{
					ReferenceID:    ref.ID,
					SubSelection:   sub,
					TargetSnapshot: target.SnapshotID,
				}
				sub = ""
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&referenceModel{}).Where("id = ?", ref.ID).Updates(map[string]any{
			"target_snapshot_id": target.SnapshotID,
			"sub_selection":      sub,
			"updated_at":         now,
		}).Error; err != nil {
			return err
		}

		ref.TargetSnapshotID = target.SnapshotID
		ref.SubSelection = sub
		ref.UpdatedAt = now
		out = ref
		return nil
	})
	if err != nil {
		return Reference{}, nil, err
	}
	return out.toAPI(false, false), warning, nil
}

// GetReference returns the reference with derived Stale/Broken flags.
func (s *Store) GetReference(ctx context.Context, referenceID uuid.UUID) (Reference, error) {
	ref, err := s.getReference(ctx, referenceID)
	if err != nil {
		return Reference{}, err
	}
	return s.decorate(ctx, ref)
}

// ListReferences returns every reference held by the owner resource, with
// derived Stale/Broken flags.
func (s *Store) ListReferences(ctx context.Context, ownerID uuid.UUID) ([]Reference, error) {
	var models []referenceModel
	if err := s.orm.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	refs := make([]Reference, 0, len(models))
	for _, m := range models {
		ref, err := s.decorate(ctx, m)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ListReferencesTo returns every reference bound to the target resource.
func (s *Store) ListReferencesTo(ctx context.Context, targetID uuid.UUID) ([]Reference, error) {
	var models []referenceModel
	if err := s.orm.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	refs := make([]Reference, 0, len(models))
	for _, m := range models {
		ref, err := s.decorate(ctx, m)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DeleteReference removes a reference held by a dependent.
func (s *Store) DeleteReference(ctx context.Context, referenceID uuid.UUID) error {
	res := s.orm.WithContext(ctx).Delete(&referenceModel{}, "id = ?", referenceID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: reference %s", ErrNotFound, referenceID)
	}
	return nil
}

func (s *Store) getReference(ctx context.Context, referenceID uuid.UUID) (referenceModel, error) {
	var model referenceModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", referenceID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return referenceModel{}, fmt.Errorf("%w: reference %s", ErrNotFound, referenceID)
	case err != nil:
		return referenceModel{}, err
	}
	return model, nil
}

func (s *Store) decorate(ctx context.Context, m referenceModel) (Reference, error) {
	var target resourceModel
	err := s.orm.WithContext(ctx).Select("snapshot_id").First(&target, "id = ?", m.TargetID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return m.toAPI(false, true), nil
	case err != nil:
		return Reference{}, err
	}
	return m.toAPI(Stale(m.TargetSnapshotID, target.SnapshotID), false), nil
}

func (s *Store) targetExists(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := s.orm.WithContext(ctx).Model(&resourceModel{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: target %s no longer exists", ErrDanglingReference, id)
	}
	return nil
}
