package suppression

import (
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
)

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound = fmt.Errorf("%w: suppression entry", domain.ErrNotFound)
)
