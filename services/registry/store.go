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

// Store persists resources and their append-only snapshot histories. Snapshot
// ids are strictly increasing per resource; commits against the same resource
// serialize through a guarded update on the current snapshot id, so two racing
// commits can never mint the same id or append out of order.
type Store struct {
	orm *gorm.DB
}

// NewStore creates a Store backed by the provided gorm handle.
func NewStore(orm *gorm.DB) (*Store, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Store{orm: orm}, nil
}

// maxCommitRetries bounds how often an unconditional commit re-reads the
// current snapshot after losing a race to a concurrent committer.
const maxCommitRetries = 3

var errCommitRaced = errors.New("registry: commit raced")

// identifierKinds are the kinds whose names must satisfy the identifier rule
// because they are addressed from task graphs and parameter declarations.
var identifierKinds = map[Kind]struct{}{
	KindPlugin:              {},
	KindPluginParameterType: {},
	KindEntrypoint:          {},
}

func validateName(kind Kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, ok := identifierKinds[kind]; ok && !ValidIdentifier(name) {
		return fmt.Errorf("%w: name %q must start with a letter or underscore and contain only letters, digits, and underscores", ErrValidation, name)
	}
	return nil
}

// CreateResource creates a resource with snapshot id 1 and appends the first
// history entry.
func (s *Store) CreateResource(ctx context.Context, req NewResource) (Resource, error) {
	if !ValidKind(string(req.Kind)) {
		return Resource{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateName(req.Kind, req.Name); err != nil {
		return Resource{}, err
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	if err := validatePayload(req.Kind, req.Payload); err != nil {
		return Resource{}, err
	}

	now := time.Now().UTC()
	model := resourceModel{
		ID:          uuid.New(),
		Kind:        string(req.Kind),
		GroupName:   req.Group,
		Name:        req.Name,
		Description: req.Description,
		Payload:     toJSONMap(req.Payload),
		SnapshotID:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resourceModel{}).
			Where("kind = ? AND group_name = ? AND name = ?", model.Kind, model.GroupName, model.Name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s %q already exists in group %q", ErrConflict, model.Kind, model.Name, model.GroupName)
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(snapshotOf(model)).Error
	})
	if err != nil {
		return Resource{}, err
	}
	return model.toAPI(false), nil
}

// GetCurrent returns the resource's current state.
func (s *Store) GetCurrent(ctx context.Context, id uuid.UUID) (Resource, error) {
	var model resourceModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Resource{}, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	case err != nil:
		return Resource{}, err
	}

	hasDraft, err := s.hasDraft(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	return model.toAPI(hasDraft), nil
}

// GetAsOf returns the immutable snapshot content recorded at snapshotID.
func (s *Store) GetAsOf(ctx context.Context, id uuid.UUID, snapshotID int64) (Snapshot, error) {
	var snap snapshotModel
	err := s.orm.WithContext(ctx).
		First(&snap, "resource_id = ? AND snapshot_id = ?", id, snapshotID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Snapshot{}, fmt.Errorf("%w: snapshot %d of resource %s", ErrNotFound, snapshotID, id)
	case err != nil:
		return Snapshot{}, err
	}

	var current resourceModel
	err = s.orm.WithContext(ctx).Select("snapshot_id").First(&current, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Identity gone but history row survived a partial cleanup; the
		// snapshot content is still immutable and readable.
		return snap.toAPI(0), nil
	case err != nil:
		return Snapshot{}, err
	}
	return snap.toAPI(current.SnapshotID), nil
}

// ListHistory returns the resource's snapshots newest-first. Exactly one
// entry carries Latest=true, and it always equals the current snapshot
// pointer.
func (s *Store) ListHistory(ctx context.Context, id uuid.UUID) ([]Snapshot, error) {
	var current resourceModel
	err := s.orm.WithContext(ctx).Select("snapshot_id").First(&current, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	case err != nil:
		return nil, err
	}

	var models []snapshotModel
	if err := s.orm.WithContext(ctx).
		Where("resource_id = ?", id).
		Order("snapshot_id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	history := make([]Snapshot, 0, len(models))
	for _, m := range models {
		history = append(history, m.toAPI(current.SnapshotID))
	}
	return history, nil
}

// ListResources returns the current state of every resource of the given
// kind, ordered by name, with HasDraft flags populated.
func (s *Store) ListResources(ctx context.Context, kind Kind) ([]Resource, error) {
	if !ValidKind(string(kind)) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}

	var models []resourceModel
	if err := s.orm.WithContext(ctx).
		Where("kind = ?", string(kind)).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	drafted := make(map[uuid.UUID]struct{})
	var draftOwners []uuid.UUID
	if err := s.orm.WithContext(ctx).Model(&draftModel{}).
		Where("resource_id IS NOT NULL AND kind = ?", string(kind)).
		Pluck("resource_id", &draftOwners).Error; err != nil {
		return nil, err
	}
	for _, id := range draftOwners {
		drafted[id] = struct{}{}
	}

	items := make([]Resource, 0, len(models))
	for _, m := range models {
		_, hasDraft := drafted[m.ID]
		items = append(items, m.toAPI(hasDraft))
	}
	return items, nil
}

// CommitUpdate applies upd onto the resource's current state, allocates the
// next snapshot id, and appends an immutable history entry, all in one
// transaction. A failed commit leaves the resource and its history untouched.
func (s *Store) CommitUpdate(ctx context.Context, id uuid.UUID, upd Update) (Resource, error) {
	upd.Name = strings.TrimSpace(upd.Name)

	var committed resourceModel
	for attempt := 0; ; attempt++ {
		err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current resourceModel
			err := tx.First(&current, "id = ?", id).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("%w: resource %s", ErrNotFound, id)
			case err != nil:
				return err
			}

			if upd.ExpectedSnapshot != 0 && upd.ExpectedSnapshot != current.SnapshotID {
				return fmt.Errorf("%w: expected snapshot %d but resource is at %d", ErrConflict, upd.ExpectedSnapshot, current.SnapshotID)
			}

			kind := Kind(current.Kind)
			next := current

			if upd.Name != "" && upd.Name != current.Name {
				if err := validateName(kind, upd.Name); err != nil {
					return err
				}
				var count int64
				if err := tx.Model(&resourceModel{}).
					Where("kind = ? AND group_name = ? AND name = ? AND id <> ?", current.Kind, current.GroupName, upd.Name, id).
					Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					return fmt.Errorf("%w: %s %q already exists in group %q", ErrConflict, current.Kind, upd.Name, current.GroupName)
				}
				next.Name = upd.Name
			}

			next.Description = upd.Description
			if upd.Payload != nil {
				if err := validatePayload(kind, upd.Payload); err != nil {
					return err
				}
				next.Payload = toJSONMap(upd.Payload)
			}
			next.SnapshotID = current.SnapshotID + 1
			next.UpdatedAt = time.Now().UTC()

			// Guarded update: only wins if nobody committed since we read
			// the current snapshot id.
			res := tx.Model(&resourceModel{}).
				Where("id = ? AND snapshot_id = ?", id, current.SnapshotID).
				Updates(map[string]any{
					"name":        next.Name,
					"description": next.Description,
					"payload":     next.Payload,
					"snapshot_id": next.SnapshotID,
					"updated_at":  next.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if upd.ExpectedSnapshot != 0 {
					return fmt.Errorf("%w: resource %s changed concurrently", ErrConflict, id)
				}
				return errCommitRaced
			}

			if err := tx.Create(snapshotOf(next)).Error; err != nil {
				return err
			}
			committed = next
			return nil
		})
		if errors.Is(err, errCommitRaced) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			if errors.Is(err, errCommitRaced) {
				return Resource{}, fmt.Errorf("%w: resource %s changed concurrently", ErrConflict, id)
			}
			return Resource{}, err
		}
		break
	}

	hasDraft, err := s.hasDraft(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	return committed.toAPI(hasDraft), nil
}

// DeleteResource removes the resource identity, its snapshot history, its
// drafts, and its tag assignments. References held by dependents are left in
// place and become dangling.
func (s *Store) DeleteResource(ctx context.Context, id uuid.UUID) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&resourceModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: resource %s", ErrNotFound, id)
		}
		if err := tx.Delete(&snapshotModel{}, "resource_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&draftModel{}, "resource_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&resourceTagModel{}, "resource_id = ?", id).Error
	})
}

func (s *Store) hasDraft(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := s.orm.WithContext(ctx).Model(&draftModel{}).
		Where("resource_id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func snapshotOf(m resourceModel) *snapshotModel {
	return &snapshotModel{
		ResourceID:  m.ID,
		SnapshotID:  m.SnapshotID,
		Kind:        m.Kind,
		GroupName:   m.GroupName,
		Name:        m.Name,
		Description: m.Description,
		Payload:     m.Payload,
		CreatedAt:   m.UpdatedAt,
	}
}
