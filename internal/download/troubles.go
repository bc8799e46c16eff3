package download

import (
	"errors"
	"fmt"

	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/strategy"
)

type (
	TroubleType int

	// Trouble is a user-reportable failure raised against a download item.
	// It wraps the underlying error with a classification the API layer
	// can translate into actionable guidance.
	Trouble struct {
		error
		tType TroubleType
	}

	ResolutionType  int
	RetryResolution struct{}
	AbortResolution struct{}
)

const (
	CREDENTIALS_REQUIRED TroubleType = iota
	ALL_TOOLS_FAILED
	WORKSPACE_FAILURE
	SELECTION_EXPIRED
	NO_USABLE_MEDIA
	DELIVERY_FAILURE
	GENERIC_FAILURE

	RETRY ResolutionType = iota
	ABORT
)

var (
	ErrNoTrouble              = errors.New("download has no trouble")
	ErrDownloadNotFound       = errors.New("no download task could be found")
	ErrSelectionExpired       = errors.New("quality selection session has expired")
	ErrAllToolsFailed         = errors.New("every tool in the fallback chain failed to produce media")
	ErrNoUsableMedia          = errors.New("tools ran successfully but produced no usable media files")
	ErrResolutionIncompatible = errors.New("provided resolution method is not valid for download trouble")
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	CREDENTIALS_REQUIRED: {ABORT},
	ALL_TOOLS_FAILED:     {ABORT, RETRY},
	WORKSPACE_FAILURE:    {ABORT, RETRY},
	SELECTION_EXPIRED:    {ABORT, RETRY},
	NO_USABLE_MEDIA:      {ABORT, RETRY},
	DELIVERY_FAILURE:     {ABORT, RETRY},
	GENERIC_FAILURE:      {ABORT, RETRY},
}

func newTrouble(err error) Trouble {
	switch {
	case errors.Is(err, strategy.ErrCredentialsRequired):
		return Trouble{error: err, tType: CREDENTIALS_REQUIRED}
	case errors.Is(err, ErrAllToolsFailed):
		return Trouble{error: err, tType: ALL_TOOLS_FAILED}
	case errors.Is(err, ErrNoUsableMedia):
		return Trouble{error: err, tType: NO_USABLE_MEDIA}
	case errors.Is(err, ErrSelectionExpired):
		return Trouble{error: err, tType: SELECTION_EXPIRED}
	}

	return Trouble{error: err, tType: GENERIC_FAILURE}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) isResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

func (t *Trouble) GenerateResolution(resolutionMethod ResolutionType) (interface{}, error) {
	if !t.isResolutionTypeAllowed(resolutionMethod) {
		return nil, ErrResolutionIncompatible
	}

	switch resolutionMethod {
	case ABORT:
		return &AbortResolution{}, nil
	case RETRY:
		return &RetryResolution{}, nil
	default:
		return nil, ErrResolutionIncompatible
	}
}

// noUsableMedia inspects a nil-or-empty bundle condition so the pipeline
// raises the right trouble for "tool exited zero but the workspace is bare".
func noUsableMedia(bundle *reconcile.Bundle) bool {
	return bundle == nil || len(bundle.Files) == 0
}

func (t TroubleType) String() string {
	switch t {
	case CREDENTIALS_REQUIRED:
		return fmt.Sprintf("CREDENTIALS_REQUIRED[%d]", t)
	case ALL_TOOLS_FAILED:
		return fmt.Sprintf("ALL_TOOLS_FAILED[%d]", t)
	case WORKSPACE_FAILURE:
		return fmt.Sprintf("WORKSPACE_FAILURE[%d]", t)
	case SELECTION_EXPIRED:
		return fmt.Sprintf("SELECTION_EXPIRED[%d]", t)
	case NO_USABLE_MEDIA:
		return fmt.Sprintf("NO_USABLE_MEDIA[%d]", t)
	case DELIVERY_FAILURE:
		return fmt.Sprintf("DELIVERY_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	}
}
