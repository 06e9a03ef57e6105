package campaign

import (
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound         = fmt.Errorf("%w: campaign", domain.ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("%w: template", domain.ErrNotFound)
	ErrAlreadySent      = fmt.Errorf("%w: campaign already sent or cancelled", domain.ErrConflict)
	ErrNotSchedulable   = fmt.Errorf("%w: only draft or scheduled campaigns can be scheduled", domain.ErrConflict)
	ErrMissingFields    = fmt.Errorf("%w: campaign needs a subject and from address", domain.ErrValidation)
	ErrNoContent        = fmt.Errorf("%w: campaign has no template or content", domain.ErrValidation)
	ErrMissingFooter    = fmt.Errorf("%w: body has no unsubscribe link", domain.ErrCompliance)
	ErrEnqueueFailed    = fmt.Errorf("%w: job could not be queued or sent", domain.ErrTransient)
)
