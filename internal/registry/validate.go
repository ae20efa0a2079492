package registry

import (
	"fmt"

	"github.com/tnnl/coordinator/internal/domain"
)

const (
	minSubdomainLen = 3
	maxSubdomainLen = 63
)

// ValidateSubdomain accepts 3 to 63 characters of [a-z0-9-] that neither
// start nor end with a hyphen.
func ValidateSubdomain(s string) error {
	if len(s) < minSubdomainLen || len(s) > maxSubdomainLen {
		return fmt.Errorf("%w: length must be between %d and %d", domain.ErrInvalidSubdomain, minSubdomainLen, maxSubdomainLen)
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return fmt.Errorf("%w: must not start or end with a hyphen", domain.ErrInvalidSubdomain)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return fmt.Errorf("%w: only lowercase letters, digits and hyphens are allowed", domain.ErrInvalidSubdomain)
	}
	return nil
}
