package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
)

// Error categories returned by the engine. Match them with errors.Is.
var (
	ErrPermissionDenied = access.ErrPermissionDenied
	ErrNotFound         = database.ErrNotFound
	ErrConflict         = database.ErrConflict
	ErrStoreUnavailable = database.ErrStoreUnavailable
	ErrBlocked          = errors.New("blocked by unfinished tasks")
	ErrFeatureDisabled  = errors.New("feature disabled")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Kind is a coarse error category for callers that map errors to responses.
type Kind string

const (
	KindNone             Kind = ""
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindBlocked          Kind = "blocked"
	KindFeatureDisabled  Kind = "feature_disabled"
	KindConflict         Kind = "conflict"
	KindStoreUnavailable Kind = "store_unavailable"
	KindInvalidArgument  Kind = "invalid_argument"
	KindInternal         Kind = "internal"
)

// KindOf classifies err. Unrecognised errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrFeatureDisabled):
		return KindFeatureDisabled
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindInternal
	}
}

// Retryable reports whether repeating the call may succeed without any change by the caller.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindStoreUnavailable:
		return true
	}
	return false
}

// BlockedError lists the prerequisites that are not finished yet.
type BlockedError struct {
	TaskID   string
	Blockers []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("task %s is blocked by %s", e.TaskID, strings.Join(e.Blockers, ", "))
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

func newBlockedError(taskID string, blockers []string) *BlockedError {
	sort.Strings(blockers)
	return &BlockedError{TaskID: taskID, Blockers: blockers}
}

// PreconditionError reports that a task was no longer in the status the caller expected.
// It is a conflict the engine does not retry.
type PreconditionError struct {
	TaskID   string
	Expected models.Status
	Actual   models.Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("task %s is in %q, expected %q", e.TaskID, e.Actual, e.Expected)
}

func (e *PreconditionError) Unwrap() error { return ErrConflict }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
