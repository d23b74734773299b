package billparser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xammer/billops/internal/domain/shared"
)

var (
	// ErrEmptyFile is returned when the artifact has no content
	ErrEmptyFile = errors.New("bill file is empty")

	// ErrMissingHeader is returned when a row export has no header row
	ErrMissingHeader = errors.New("bill file missing header row")
)

// UnsupportedFormatError reports an artifact that is neither a row export
// nor a readable document.
func UnsupportedFormatError(name string) error {
	return shared.NewDomainError(shared.CodeUnsupportedFormat,
		fmt.Sprintf("unsupported bill format for %q, expected .csv, .pdf or .txt", name))
}

// MissingColumnsError lists the required columns absent from the header.
func MissingColumnsError(missing []string) error {
	return shared.NewDomainError(shared.CodeMissingColumns,
		fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")))
}

// MalformedRowError describes a single row that could not be read. It is
// logged and the row skipped; it never aborts a parse.
type MalformedRowError struct {
	Line   int
	Reason string
	Err    error
}

func (e *MalformedRowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

func (e *MalformedRowError) Unwrap() error {
	return e.Err
}
