package trd

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTorrentNotFound     = errors.New("torrent not found")
	ErrMetadataUnavailable = errors.New("torrent metadata unavailable")
	ErrSelectionNotOpen    = errors.New("no selection in progress for torrent")
	ErrContentNotFound     = errors.New("content not found")
	ErrDeliveryNotFound    = errors.New("delivery not found")
)

// PolicyKind names the rule a request was rejected by.
type PolicyKind int

const (
	OverLimit PolicyKind = iota + 1
	TooLarge
	NothingSelected
	SelectionTooLarge
)

func (k PolicyKind) String() string {
	switch k {
	case OverLimit:
		return "over_limit"
	case TooLarge:
		return "too_large"
	case NothingSelected:
		return "nothing_selected"
	case SelectionTooLarge:
		return "selection_too_large"
	default:
		return "unknown"
	}
}

// PolicyError is a request refused by configured policy. It is reported to
// the user and is not an operational failure.
type PolicyError struct {
	Kind  PolicyKind
	Limit int64
	Got   int64
}

func (e *PolicyError) Error() string {
	switch e.Kind {
	case OverLimit:
		return fmt.Sprintf("active torrent limit reached (%d of %d)", e.Got, e.Limit)
	case TooLarge:
		return fmt.Sprintf("every file exceeds the size limit of %s", humanize.IBytes(uint64(e.Limit)))
	case NothingSelected:
		return "nothing selected"
	case SelectionTooLarge:
		return fmt.Sprintf("selection of %s exceeds the limit of %s",
			humanize.IBytes(uint64(e.Got)), humanize.IBytes(uint64(e.Limit)))
	default:
		return "rejected by policy"
	}
}

// AsPolicyError returns the PolicyError in err's chain, if any.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HashExtractionError means no info-hash could be derived from the payload.
type HashExtractionError struct {
	Source string // "magnet" or "file"
	Err    error
}

func (e *HashExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extracting info-hash from %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("extracting info-hash from %s: no info-hash found", e.Source)
}

func (e *HashExtractionError) Unwrap() error { return e.Err }
