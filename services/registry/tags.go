package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateTag registers a tag name. Creating an existing tag is a no-op.
func (s *Store) CreateTag(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: tag name is required", ErrValidation)
	}

	err := s.orm.WithContext(ctx).Create(&tagModel{Name: name, CreatedAt: time.Now().UTC()}).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// ListTags returns all registered tag names in lexical order.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.orm.WithContext(ctx).Model(&tagModel{}).
		Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// TagResource assigns a tag to a resource, registering the tag if needed.
// Tag assignments are plain labels; they do not participate in versioning.
func (s *Store) TagResource(ctx context.Context, resourceID uuid.UUID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: tag name is required", ErrValidation)
	}

	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resourceModel{}).Where("id = ?", resourceID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
		}

		if err := tx.Where("name = ?", name).
			FirstOrCreate(&tagModel{Name: name, CreatedAt: time.Now().UTC()}).Error; err != nil {
			return err
		}

		var assigned int64
		if err := tx.Model(&resourceTagModel{}).
			Where("resource_id = ? AND tag_name = ?", resourceID, name).
			Count(&assigned).Error; err != nil {
			return err
		}
		if assigned > 0 {
			return nil
		}
		return tx.Create(&resourceTagModel{ResourceID: resourceID, TagName: name}).Error
	})
}

// UntagResource removes a tag assignment from a resource.
func (s *Store) UntagResource(ctx context.Context, resourceID uuid.UUID, name string) error {
	res := s.orm.WithContext(ctx).
		Delete(&resourceTagModel{}, "resource_id = ? AND tag_name = ?", resourceID, name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: tag %q on resource %s", ErrNotFound, name, resourceID)
	}
	return nil
}

// ListResourceTags returns the tags assigned to a resource in lexical order.
func (s *Store) ListResourceTags(ctx context.Context, resourceID uuid.UUID) ([]string, error) {
	var count int64
	if err := s.orm.WithContext(ctx).Model(&resourceModel{}).
		Where("id = ?", resourceID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
	}

	var names []string
	if err := s.orm.WithContext(ctx).Model(&resourceTagModel{}).
		Where("resource_id = ?", resourceID).
		Order("tag_name ASC").
		Pluck("tag_name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}
