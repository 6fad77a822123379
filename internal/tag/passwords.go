package tag

import (
	"fmt"
	"sort"
	"strings"
)

// PlaceholderSecret is the sentinel value returned for a password-registry
// key that has no configured entry. Its presence in operational output is
// always a misconfiguration signal.
const PlaceholderSecret = "CHANGE-ME"

// Role names used in password-registry keys.
const (
	RoleAccess = "access"
	RoleKill   = "kill"
	RoleSecret = "secret"
)

// keyAliases maps a format's nominal password-registry key prefix to the
// prefix actually used to look it up. DE290F has no passwords of its own;
// it shares DE290's configuration key (spec §9, "shared passwords across
// variants" -- modeled as a resolution function, not inheritance).
var keyAliases = map[string]string{
	"DE290FTag": "DE290Tag",
}

// PasswordRegistry is a flat, read-only (after NewPasswordRegistry) map from
// "<FormatName>.<Role>" to secret string.
type PasswordRegistry struct {
	values map[string]string
}

// NewPasswordRegistry builds a registry from a raw key->value map, such as
// one decoded from the `tagPasswords` section of the YAML config.
func NewPasswordRegistry(values map[string]string) *PasswordRegistry {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &PasswordRegistry{values: copied}
}

func registryKey(formatClassName, role string) string {
	if alias, ok := keyAliases[formatClassName]; ok {
		formatClassName = alias
	}
	return formatClassName + "." + role
}

// Lookup resolves a password-registry key, falling back to the placeholder
// sentinel when absent.
func (r *PasswordRegistry) Lookup(formatClassName, role string) string {
	key := registryKey(formatClassName, role)
	if v, ok := r.values[key]; ok {
		return v
	}
	return PlaceholderSecret
}

// PlaceholderWarnings returns a single multi-key warning message listing
// every registry key that is missing or already contains the placeholder
// substring, in sorted key order -- mirroring the source's "load once, warn
// many" shape (one combined warning, not one log line per key).
func (r *PasswordRegistry) PlaceholderWarnings(formatClassNames []string) string {
	var flagged []string
	seen := make(map[string]struct{})
	for _, format := range formatClassNames {
		for _, role := range rolesForFormat(format) {
			key := registryKey(format, role)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			v, ok := r.values[key]
			if !ok || strings.Contains(v, PlaceholderSecret) {
				flagged = append(flagged, key)
			}
		}
	}
	if len(flagged) == 0 {
		return ""
	}
	sort.Strings(flagged)
	return fmt.Sprintf("password registry keys using the %s placeholder: %s", PlaceholderSecret, strings.Join(flagged, ", "))
}

// KnownFormatKeys enumerates the format prefixes of the registry keys this
// service ever looks up (roles come from rolesForFormat), for use building
// the single startup warning.
var (
	KnownFormatKeys = []string{"DE290Tag", "DE290FTag", "DE386Tag", "DE6Tag", "BRTag"}
)

func rolesForFormat(formatClassName string) []string {
	if formatClassName == "BRTag" {
		return []string{RoleSecret}
	}
	return []string{RoleAccess, RoleKill}
}
