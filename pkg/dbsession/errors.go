package dbsession

import "github.com/zeebo/errs"

// Error classes implement the taxonomy from the error handling design:
// each kind a distinct errs.Class so callers can switch on it with
// errs.Class.Has (or errors.As against the wrapped *errs.Error).
var (
	// NotFound: row absent in lookup, read, exists-prefix.
	NotFound = errs.Class("not-found")

	// Ambiguous: more than one row matches an OID prefix.
	Ambiguous = errs.Class("ambiguous")

	// AlreadyExists: a non-force create hit an existing ref.
	AlreadyExists = errs.Class("already-exists")

	// ValueChanged: a compare-and-swap mismatch on ref update/delete.
	ValueChanged = errs.Class("value-changed")

	// Corruption: a ref violates R1, a tree entry is truncated, or an
	// OID has the wrong length. Fatal for the operation.
	Corruption = errs.Class("corruption")

	// InvalidInput: a non-hex OID, a malformed URL, or an unknown type
	// code. Fatal for the operation.
	InvalidInput = errs.Class("invalid-input")

	// BackendFailure: a database query error or wire error. The
	// enclosing transaction is rolled back.
	BackendFailure = errs.Class("backend-failure")

	// OOM: an allocation failure. Fatal.
	OOM = errs.Class("oom")
)

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool { return NotFound.Has(err) }

// IsAmbiguous reports whether err is (or wraps) an ambiguous error.
func IsAmbiguous(err error) bool { return Ambiguous.Has(err) }

// IsAlreadyExists reports whether err is (or wraps) an already-exists error.
func IsAlreadyExists(err error) bool { return AlreadyExists.Has(err) }

// IsValueChanged reports whether err is (or wraps) a value-changed error.
func IsValueChanged(err error) bool { return ValueChanged.Has(err) }

// IsCorruption reports whether err is (or wraps) a corruption error.
func IsCorruption(err error) bool { return Corruption.Has(err) }

// IsInvalidInput reports whether err is (or wraps) an invalid-input error.
func IsInvalidInput(err error) bool { return InvalidInput.Has(err) }

// IsBackendFailure reports whether err is (or wraps) a backend-failure error.
func IsBackendFailure(err error) bool { return BackendFailure.Has(err) }

// IsOOM reports whether err is (or wraps) an oom error.
func IsOOM(err error) bool { return OOM.Has(err) }
