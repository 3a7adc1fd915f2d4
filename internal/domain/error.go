package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// OCR orchestration
	ErrInvalidRequest     = errors.New("invalid request")
	ErrServiceUnavailable = errors.New("ocr service unavailable")
	ErrPollTimeout        = errors.New("status check timeout")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrLockHeld           = errors.New("lock is held by another owner")

	ErrNoReceiptsFound = fmt.Errorf("%w: no receipts found", ErrInvalidRequest)
	ErrJobNotFound     = fmt.Errorf("%w: ocr job", ErrNotFound)
	ErrReceiptNotFound = fmt.Errorf("%w: receipt", ErrNotFound)
)
