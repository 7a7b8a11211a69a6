package enums

import "regexp"

// System codes name configured external systems ("erp-eu-1", "dhl-express").
// Tenants define them, so the set is open; only the format is enforced.
var systemCodeRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// IsValidSystemCode reports whether raw is a well-formed system code.
func IsValidSystemCode(raw string) bool {
	return systemCodeRe.MatchString(raw)
}
