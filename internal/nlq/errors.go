package nlq

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnsafeQuery is matched by UnsafeQueryError.
	ErrUnsafeQuery = errors.New("query contains unsafe operations")

	// ErrEmptyQuery is returned for a blank natural language question.
	ErrEmptyQuery = errors.New("natural language query is empty")
)

// UnsafeQueryError reports the statement keyword that made a query unsafe.
type UnsafeQueryError struct {
	Keyword string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("query contains unsafe operation %s", e.Keyword)
}

func (e *UnsafeQueryError) Is(target error) bool {
	return target == ErrUnsafeQuery
}

// InvalidResponseError means the model answer could not be read as a query plan.
type InvalidResponseError struct {
	Response string
	Err      error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid LLM response format: %v", e.Err)
	}
	return "invalid LLM response format"
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// ExecutionError wraps a database failure.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ComputeError is returned when every attempt of a question failed.
type ComputeError struct {
	Attempts int
	Err      error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("natural language query failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

var (
	unsafeStatement = regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|INSERT|UPDATE|ALTER|CREATE|EXECUTE|GRANT|REVOKE|` +
		`REPLACE\s+INTO|MERGE|UPSERT|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX|COPY|CALL)\b|\b(DO)\s+\$`)

	// Server-side file and connection functions that work inside read-only
	// transactions.
	unsafeFunction = regexp.MustCompile(`(?i)\b(lo_import|lo_export|pg_read_file|pg_read_binary_file|pg_ls_dir|pg_stat_file|dblink\w*|load_extension|readfile|writefile)\s*\(`)
)

// CheckSafe is the first filter against queries that could modify the
// database or escape their transaction. The executor's read-only
// transaction is the second.
func CheckSafe(query string) error {
	if m := unsafeStatement.FindStringSubmatch(query); m != nil {
		keyword := m[1] + m[2]
		return &UnsafeQueryError{Keyword: strings.ToUpper(strings.Join(strings.Fields(keyword), " "))}
	}
	if m := unsafeFunction.FindStringSubmatch(query); m != nil {
		return &UnsafeQueryError{Keyword: strings.ToUpper(m[1])}
	}
	if strings.Contains(strings.TrimRight(strings.TrimSpace(query), "; \t\n"), ";") {
		return &UnsafeQueryError{Keyword: ";"}
	}
	return nil
}
