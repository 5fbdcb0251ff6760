package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionSatisfies reports whether a device software version satisfies an
// implementation's version constraint.
//
// An empty constraint is a wildcard. A constraint that parses as a semver
// range (">= 17.3, < 18.0", "~15.2") is evaluated as a range against the
// dotted version. Anything else is treated as a regular expression over the
// raw version string, which covers vendor formats semver cannot represent
// (e.g. "17.9(3a)").
func versionSatisfies(constraint, version string) (bool, error) {
	if strings.TrimSpace(constraint) == "" {
		return true, nil
	}
	if version == "" {
		return false, nil
	}

	if rng, err := semver.NewConstraint(constraint); err == nil {
		if norm, ok := normalizeVersion(version); ok {
			if v, err := semver.NewVersion(norm); err == nil {
				return rng.Check(v), nil
			}
		}
		// Constraint is a range but the device version is not a dotted
		// triple; fall through to regex so vendor strings still get a
		// chance.
	}

	re, err := regexp.Compile(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	return re.MatchString(version), nil
}

// normalizeVersion pads short dotted versions ("17.3" -> "17.3.0") so semver
// comparison follows standard dotted-version ordering. Versions with more
// than three components ("17.3.5.1") cannot be range-compared without losing
// the extra component, so they are rejected here and matched by regex.
func normalizeVersion(version string) (string, bool) {
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return "", false
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts, "."), true
}
