package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		version    string
		want       bool
	}{
		{"empty constraint is wildcard", "", "17.3.1", true},
		{"empty constraint, empty version", "", "", true},
		{"range match", ">= 17.3, < 18.0", "17.6.1", true},
		{"range below", ">= 17.3", "16.12.4", false},
		{"short dotted version padded", ">= 17.3.0", "17.3", true},
		{"tilde range", "~15.2", "15.2.7", true},
		{"regex vendor format", `^15\.2\(7\)`, "15.2(7)E3", true},
		{"regex no match", `^12\.`, "15.2(7)E3", false},
		{"constrained rejects empty version", ">= 17.0", "", false},
		{"four components never truncated for ranges", "<= 17.3.5", "17.3.5.1", false},
		{"four components matched by regex", `^17\.3\.5\.`, "17.3.5.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := versionSatisfies(tt.constraint, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionSatisfiesInvalidConstraint(t *testing.T) {
	_, err := versionSatisfies(`([unclosed`, "17.3.1")
	require.Error(t, err)
}
