package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning means another run currently holds the file.
	ErrAlreadyRunning = errors.New("an import is already running for this file")
	ErrInvalidMapping = errors.New("invalid column mapping")
)

// RunFatalError is returned when a run could not finish. RunID is empty when the run
// record itself could not be created.
type RunFatalError struct {
	RunID string
	Err   error
}

func (e *RunFatalError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("import failed: %v", e.Err)
	}
	return fmt.Sprintf("import run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFatalError) Unwrap() error {
	return e.Err
}

func IsRunFatal(err error) bool {
	var fatal *RunFatalError
	return errors.As(err, &fatal)
}
