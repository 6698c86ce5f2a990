package record

import "fmt"

// ValidationError reports malformed input the caller can correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// LockedError rejects an edit on a record locked by someone else.
type LockedError struct {
	RecordID string
	LockedBy string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("record is locked by %q", e.LockedBy)
}

// TransitionError rejects a state change the template does not allow. From
// and To carry state names so the caller can present the rejection.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %q to %q rejected: %s", e.From, e.To, e.Reason)
}

// CommentRequiredError rejects a state change whose transition demands a
// comment that was not provided.
type CommentRequiredError struct {
	To string
}

func (e *CommentRequiredError) Error() string {
	return fmt.Sprintf("a comment is required to move to %q", e.To)
}

// AlreadyArchivedError rejects archiving a record twice.
type AlreadyArchivedError struct {
	RecordID string
}

func (e *AlreadyArchivedError) Error() string {
	return fmt.Sprintf("record %q is already archived", e.RecordID)
}
