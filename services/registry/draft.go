package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenDraft creates a draft for an existing resource, seeded from its current
// state, or returns the draft already open for (resource, owner). The base
// snapshot records what the editor saw when the draft was opened.
func (s *Store) OpenDraft(ctx context.Context, resourceID uuid.UUID, owner string) (Draft, error) {
	var out draftModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing draftModel
		err := tx.First(&existing, "resource_id = ? AND owner = ?", resourceID, owner).Error
		switch {
		case err == nil:
			out = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var resource resourceModel
		err = tx.First(&resource, "id = ?", resourceID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
		case err != nil:
			return err
		}

		now := time.Now().UTC()
		rid := resourceID
		out = draftModel{
			ID:             uuid.New(),
			ResourceID:     &rid,
			Owner:          owner,
			Kind:           resource.Kind,
			GroupName:      resource.GroupName,
			Name:           resource.Name,
			Description:    resource.Description,
			Payload:        resource.Payload,
			BaseSnapshotID: resource.SnapshotID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return Draft{}, err
	}
	return out.toAPI(), nil
}

// OpenNewDraft creates a draft for a resource that does not exist yet.
func (s *Store) OpenNewDraft(ctx context.Context, req NewDraft) (Draft, error) {
	if !ValidKind(string(req.Kind)) {
		return Draft{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}

	now := time.Now().UTC()
	model := draftModel{
		ID:          uuid.New(),
		Owner:       req.Owner,
		Kind:        string(req.Kind),
		GroupName:   req.Group,
		Name:        req.Fields.Name,
		Description: req.Fields.Description,
		Payload:     toJSONMap(req.Fields.Payload),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Draft{}, err
	}
	return model.toAPI(), nil
}

// GetDraft returns a draft by id.
func (s *Store) GetDraft(ctx context.Context, draftID uuid.UUID) (Draft, error) {
	var model draftModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", draftID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Draft{}, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	case err != nil:
		return Draft{}, err
	}
	return model.toAPI(), nil
}

// GetDraftFor returns the draft open for (resource, owner), if any.
func (s *Store) GetDraftFor(ctx context.Context, resourceID uuid.UUID, owner string) (Draft, error) {
	var model draftModel
	err := s.orm.WithContext(ctx).First(&model, "resource_id = ? AND owner = ?", resourceID, owner).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Draft{}, fmt.Errorf("%w: no draft for resource %s", ErrNotFound, resourceID)
	case err != nil:
		return Draft{}, err
	}
	return model.toAPI(), nil
}

// UpdateDraft replaces the draft's editable fields. No snapshot is created
// and the committed resource is untouched.
func (s *Store) UpdateDraft(ctx context.Context, draftID uuid.UUID, fields DraftFields) (Draft, error) {
	var out draftModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&out, "id = ?", draftID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
		case err != nil:
			return err
		}

		out.Name = fields.Name
		out.Description = fields.Description
		out.Payload = toJSONMap(fields.Payload)
		out.UpdatedAt = time.Now().UTC()
		return tx.Model(&draftModel{}).Where("id = ?", draftID).Updates(map[string]any{
			"name":        out.Name,
			"description": out.Description,
			"payload":     out.Payload,
			"updated_at":  out.UpdatedAt,
		}).Error
	})
	if err != nil {
		return Draft{}, err
	}
	return out.toAPI(), nil
}

// PublishDraft commits the draft's fields — creating the resource if the
// draft was opened for one that did not exist yet — and clears the draft.
// Publishing against a resource deleted since the draft was opened fails
// with ErrConflict and leaves the draft in place.
func (s *Store) PublishDraft(ctx context.Context, draftID uuid.UUID) (Resource, error) {
	draft, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return Resource{}, err
	}

	var resource Resource
	if draft.ResourceID == nil {
		resource, err = s.CreateResource(ctx, NewResource{
			Kind:        draft.Kind,
			Group:       draft.Group,
			Name:        draft.Name,
			Description: draft.Description,
			Payload:     draft.Payload,
		})
		if err != nil {
			return Resource{}, err
		}
	} else {
		resource, err = s.CommitUpdate(ctx, *draft.ResourceID, Update{
			Name:        draft.Name,
			Description: draft.Description,
			Payload:     draft.Payload,
		})
		if errors.Is(err, ErrNotFound) {
			return Resource{}, fmt.Errorf("%w: resource %s was deleted while the draft was open", ErrConflict, *draft.ResourceID)
		}
		if err != nil {
			return Resource{}, err
		}
	}

	if err := s.orm.WithContext(ctx).Delete(&draftModel{}, "id = ?", draftID).Error; err != nil {
		return Resource{}, err
	}
	resource.HasDraft = false
	return resource, nil
}

// DiscardDraft clears the draft without committing anything.
func (s *Store) DiscardDraft(ctx context.Context, draftID uuid.UUID) error {
	res := s.orm.WithContext(ctx).Delete(&draftModel{}, "id = ?", draftID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	}
	return nil
}
