package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates an unknown resource, snapshot, draft, or
	// reference id.
	ErrNotFound = errors.New("registry: not found")

	// ErrValidation indicates a malformed field, such as a bad identifier or
	// an unparseable task graph.
	ErrValidation = errors.New("registry: validation failed")

	// ErrConflict indicates a name collision within a group, a lost
	// optimistic-concurrency race, or a draft whose publish target was
	// deleted.
	ErrConflict = errors.New("registry: conflict")

	// ErrDanglingReference indicates a reference whose target resource
	// identity no longer exists. The reference cannot be resolved or synced;
	// the caller must create a new one.
	ErrDanglingReference = errors.New("registry: dangling reference")
)

// SubSelectionLostWarning reports that a reference's narrower selection (for
// example a task within a plugin file) no longer resolves in the snapshot the
// reference was synced to. The sync itself succeeded; the caller must
// re-select.
type SubSelectionLostWarning struct {
	ReferenceID    uuid.UUID `json:"reference_id"`
	SubSelection   string    `json:"sub_selection"`
	TargetSnapshot int64     `json:"target_snapshot"`
}

func (w *SubSelectionLostWarning) String() string {
	return fmt.Sprintf("sub-selection %q no longer exists as of snapshot %d", w.SubSelection, w.TargetSnapshot)
}
