package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/output"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
)

// Exit codes shared by all commands.
const (
	exitGeneric  = 1
	exitUsage    = 2
	exitNotFound = 4
	exitConflict = 5
	exitStore    = 6
	exitBusy     = 7
)

type AppError struct {
	Code    int
	Err     error
	Printed bool
}

func (e AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e AppError) Unwrap() error { return e.Err }

func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err}
}

func WrapPrinted(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err, Printed: true}
}

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return exitGeneric
}

func errorCodeForExit(code int) contract.ErrorCode {
	switch code {
	case exitUsage:
		return contract.ErrInvalidUsage
	case exitNotFound:
		return contract.ErrNotFound
	case exitConflict:
		return contract.ErrConflict
	case exitStore:
		return contract.ErrStoreUnavailable
	case exitBusy:
		return contract.ErrConcurrency
	default:
		return contract.ErrGeneric
	}
}

// classifyError maps engine and store failures to an exit code and hint.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, schedule.ErrInvalidInterval):
		return exitUsage, "End must be after start"
	case errors.Is(err, schedule.ErrInvalidDuration):
		return exitUsage, "Use a positive duration like 30m or 1h"
	case errors.Is(err, schedule.ErrInvalidShift):
		return exitUsage, "A shift must move the end later; edit the commitment to shorten it"
	case errors.Is(err, schedule.ErrInvalidSearch):
		return exitUsage, "Use --horizon and --max-slots >= 0"
	case errors.Is(err, store.ErrNotFound):
		return exitNotFound, "Check the ID with `tempo list --all --fields id,title,start`"
	case isGuardTimeout(err):
		return exitBusy, "Another write for this owner is in flight; retry"
	default:
		return exitStore, "Check --store path and permissions"
	}
}

func isGuardTimeout(err error) bool {
	var se *storeContextError
	return errors.As(err, &se) && se.Phase == "store.guard" && errors.Is(err, context.DeadlineExceeded)
}

func fail(printer output.Printer, err error) error {
	code, hint := classifyError(err)
	_ = printer.ErrorWithMeta(errorCodeForExit(code), err.Error(), hint, storeErrorMeta(err))
	return WrapPrinted(code, err)
}

func failWithHint(printer output.Printer, code contract.ErrorCode, err error, hint string, exitCode int) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	_ = printer.Error(code, err.Error(), hint)
	return WrapPrinted(exitCode, err)
}
