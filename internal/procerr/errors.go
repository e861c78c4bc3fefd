// Package procerr provides standardized, categorized errors for the
// procshare runtime, in the same spirit as a host language's structured
// exception hierarchy: every failure carries a category so callers can
// branch on the kind of failure without string-matching messages.
package procerr

import "fmt"

// Category groups related failures the way spec.md's error taxonomy does:
// resource exhaustion, integrity violations, usage errors, and interruption.
type Category string

const (
	CategoryResource     Category = "RESOURCE"
	CategoryIntegrity    Category = "INTEGRITY"
	CategoryUsage        Category = "USAGE"
	CategoryInterruption Category = "INTERRUPTION"
)

// Error is a categorized procshare error.
type Error struct {
	Category Category
	Code     string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func newErr(cat Category, code, msg string) *Error {
	return &Error{Category: cat, Code: code, Message: msg}
}

// Sentinel errors referenced throughout the runtime. Callers may compare
// with errors.Is; Wrap preserves this identity under fmt.Errorf("%w").
var (
	ErrRegionCreateFailed     = newErr(CategoryResource, "REGION_CREATE_FAILED", "the operating system refused to create a shared region")
	ErrTooManyParticipants    = newErr(CategoryResource, "TOO_MANY_PARTICIPANTS", "no free process table slot")
	ErrTooManyRegions         = newErr(CategoryResource, "TOO_MANY_REGIONS", "no free region table row")
	ErrSlabAllocFailed        = newErr(CategoryResource, "SLAB_ALLOC_FAILED", "slab allocator could not satisfy the request")
	ErrNoHandleSlot           = newErr(CategoryResource, "NO_HANDLE_SLOT", "no free handle attach-table row")
	ErrReverseMappingFailed   = newErr(CategoryIntegrity, "REVERSE_MAPPING_FAILED", "pointer does not fall within any attached region")
	ErrNonOwnerRelease        = newErr(CategoryIntegrity, "NON_OWNER_RELEASE", "lock released by a participant that does not own it")
	ErrHashProbeCorrupt       = newErr(CategoryIntegrity, "HASH_PROBE_CORRUPT", "hash probe visited no free slot")
	ErrObjectCorrupt          = newErr(CategoryIntegrity, "OBJECT_CORRUPT", "shared object may be corrupt")
	ErrNotShareable           = newErr(CategoryUsage, "NOT_SHAREABLE", "type is not registered as shareable")
	ErrNoSuchKey              = newErr(CategoryUsage, "NO_SUCH_KEY", "no such key")
	ErrNoSuchAttribute        = newErr(CategoryUsage, "NO_SUCH_ATTRIBUTE", "no such attribute")
	ErrUnhashable             = newErr(CategoryUsage, "UNHASHABLE", "type is unhashable")
	ErrValueNotFound          = newErr(CategoryUsage, "VALUE_NOT_FOUND", "value not found in list")
	ErrIndexOutOfRange        = newErr(CategoryUsage, "INDEX_OUT_OF_RANGE", "index out of range")
	ErrSynchManagerRequired   = newErr(CategoryUsage, "SYNCH_MANAGER_REQUIRED", "registered type must supply a synchronization manager")
	ErrTypeAlreadyRegistered  = newErr(CategoryUsage, "TYPE_ALREADY_REGISTERED", "type is already registered")
	ErrProtocolVersionMismatch = newErr(CategoryUsage, "PROTOCOL_VERSION_MISMATCH", "participant protocol version is incompatible with the running tree")
	ErrInterrupted            = newErr(CategoryInterruption, "INTERRUPTED", "operation interrupted, retry")
)

// Wrap attaches additional context to a sentinel error while preserving its
// identity for errors.Is.
func Wrap(sentinel *Error, context string) error {
	return fmt.Errorf("%s: %w", context, sentinel)
}

// Is reports whether err is, or wraps, target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
