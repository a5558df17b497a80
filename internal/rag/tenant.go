package rag

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// collectionPrefix namespaces tenant collections inside the backend store so
// they never collide with collections created by other applications.
const collectionPrefix = "Vector_"

// maxTenantLen is the maximum accepted tenant identifier length.
const maxTenantLen = 56

// tenantPattern is the accepted tenant identifier charset. The identifier is
// additionally rejected when it ends in a non-alphanumeric character, since
// some backends silently mangle trailing special characters in class names.
var tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-@ ]{1,56}$`)

// collectionNames caches tenant → collection name so validation and
// sanitisation run once per tenant per process. Safe to lose on restart;
// the derivation is deterministic.
var collectionNames sync.Map

// ValidateTenant checks the tenant identifier against the accepted charset
// (alphanumeric plus `_.-@` and space, at most 56 characters, not ending in
// a special character). It returns ErrInvalidTenant on failure.
func ValidateTenant(tenant string) error {
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("%w: %q must match [a-zA-Z0-9_.-@ ] and be at most %d characters", ErrInvalidTenant, tenant, maxTenantLen)
	}
	if !isAlphanumeric(tenant[len(tenant)-1]) {
		return fmt.Errorf("%w: %q must not end in a special character", ErrInvalidTenant, tenant)
	}
	return nil
}

// CollectionName derives the backend-visible collection name for a tenant.
// The mapping is deterministic and cached; the collection name is always
// derived, never independently chosen. Returns ErrInvalidTenant when the
// tenant identifier fails validation.
func CollectionName(tenant string) (string, error) {
	if name, ok := collectionNames.Load(tenant); ok {
		return name.(string), nil
	}

	if err := ValidateTenant(tenant); err != nil {
		return "", err
	}

	name := collectionPrefix + sanitizeTenant(tenant)
	collectionNames.Store(tenant, name)
	return name, nil
}

// sanitizeTenant maps every character outside [a-zA-Z0-9] to an underscore
// so the result is a valid identifier in every supported backend.
func sanitizeTenant(tenant string) string {
	var b strings.Builder
	b.Grow(len(tenant))
	for i := 0; i < len(tenant); i++ {
		if isAlphanumeric(tenant[i]) {
			b.WriteByte(tenant[i])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// isAlphanumeric reports whether c is an ASCII letter or digit.
func isAlphanumeric(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
