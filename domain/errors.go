// Package domain holds the records and error kinds shared by the ingestion
// and question answering paths.
package domain

import "errors"

// Error kinds surfaced to callers. Every error returned by a service wraps
// exactly one of these so callers can branch with errors.Is.
var (
	// ErrValidation indicates malformed input or an out-of-range parameter.
	ErrValidation = errors.New("validation error")

	// ErrUnsupportedFormat indicates a file type outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrNotFound indicates an unknown document or chat id.
	ErrNotFound = errors.New("not found")

	// ErrIndexWrite indicates the embedding or vector storage backend failed on write.
	ErrIndexWrite = errors.New("index write error")

	// ErrIndexRead indicates the vector backend failed on search.
	ErrIndexRead = errors.New("index read error")

	// ErrSynthesis indicates the language model call failed.
	ErrSynthesis = errors.New("synthesis error")

	// ErrPersistence indicates the record store failed.
	ErrPersistence = errors.New("persistence error")
)

// Kind is the stable, machine readable name of an error kind.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindNotFound          Kind = "not_found"
	KindIndexWrite        Kind = "index_write"
	KindIndexRead         Kind = "index_read"
	KindSynthesis         Kind = "synthesis"
	KindPersistence       Kind = "persistence"
	KindInternal          Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrNotFound, KindNotFound},
	{ErrIndexWrite, KindIndexWrite},
	{ErrIndexRead, KindIndexRead},
	{ErrSynthesis, KindSynthesis},
	{ErrPersistence, KindPersistence},
}

// KindOf reports the kind of err. Errors that wrap none of the sentinel
// kinds are reported as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
