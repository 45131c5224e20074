package service

import "errors"

var (
	// ErrAnalysisConflict means another run holds or just took the unit
	ErrAnalysisConflict = errors.New("analysis conflict")
	// ErrRetentionViolation means raw fixes of the date are still needed
	ErrRetentionViolation = errors.New("retention violation")
	// ErrConfirmationRequired guards destructive operations
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrNotFound means the resource does not exist for this subject
	ErrNotFound = errors.New("not found")
)
