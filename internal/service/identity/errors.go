package identity

import (
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
)

var (
	ErrInvalidDomain         = fmt.Errorf("%w: invalid domain name", domain.ErrValidation)
	ErrDuplicateDomain       = fmt.Errorf("%w: domain already registered", domain.ErrConflict)
	ErrNotFound              = fmt.Errorf("%w: domain identity", domain.ErrNotFound)
	ErrNotOwner              = fmt.Errorf("%w: domain belongs to another owner", domain.ErrUnauthorized)
	ErrNotVerified           = fmt.Errorf("%w: domain is not verified", domain.ErrValidation)
	ErrPrimaryDelete         = fmt.Errorf("%w: primary domain cannot be deleted", domain.ErrConflict)
	ErrPrimaryBusy           = fmt.Errorf("%w: primary domain change already in progress", domain.ErrConflict)
	ErrEncryptionUnavailable = fmt.Errorf("%w: dkim key encryption is not configured", domain.ErrTransient)
)
