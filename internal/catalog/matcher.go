// Package catalog holds the task catalog: vendor-agnostic task definitions,
// their platform-specific implementations, and the selection logic that picks
// the best implementation for a concrete device.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/catalog/model"
)

// ErrNoMatch is returned when no enabled implementation fits the device.
var ErrNoMatch = errors.New("no matching task implementation")

// AmbiguousMatchError reports two implementations that tie on specificity and
// priority. Selection still resolves the tie deterministically by id, but the
// catalog flags the tie so operators can fix the priorities.
type AmbiguousMatchError struct {
	TaskID   uuid.UUID
	First    uuid.UUID
	Second   uuid.UUID
	Priority int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("implementations %s and %s tie at priority %d for task %s",
		e.First, e.Second, e.Priority, e.TaskID)
}

// DeviceDescriptor is the read-only view of a device supplied by the source
// of truth. The core never mutates it.
type DeviceDescriptor struct {
	Manufacturer    string         `json:"manufacturer"`
	Platform        string         `json:"platform,omitempty"`
	SoftwareVersion string         `json:"softwareVersion,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
}

// Select picks the best implementation of a task for a device from a catalog
// snapshot. Ranking: platform-specific beats manufacturer-generic, then
// priority descending, then implementation id ascending so repeated calls
// with the same inputs always return the same row.
func Select(taskID uuid.UUID, device DeviceDescriptor, candidates []model.TaskImplementation) (*model.TaskImplementation, error) {
	eligible := make([]model.TaskImplementation, 0, len(candidates))
	for _, impl := range candidates {
		if impl.TaskID != taskID || !impl.Enabled {
			continue
		}
		if impl.Manufacturer != device.Manufacturer {
			continue
		}
		if impl.PlatformSpecific() && *impl.Platform != device.Platform {
			continue
		}
		ok, err := versionSatisfies(impl.VersionConstraint, device.SoftwareVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		eligible = append(eligible, impl)
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: task %s, manufacturer %q, platform %q",
			ErrNoMatch, taskID, device.Manufacturer, device.Platform)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.PlatformSpecific() != b.PlatformSpecific() {
			return a.PlatformSpecific()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	selected := eligible[0]
	return &selected, nil
}

// CheckUnique inspects a candidate set for specificity+priority ties. Used by
// the library loader to surface ambiguity at import time rather than at
// selection time.
func CheckUnique(taskID uuid.UUID, candidates []model.TaskImplementation) error {
	type tier struct {
		manufacturer string
		platform     string
		priority     int
	}
	seen := make(map[tier]uuid.UUID)
	for _, impl := range candidates {
		if impl.TaskID != taskID || !impl.Enabled {
			continue
		}
		key := tier{manufacturer: impl.Manufacturer, priority: impl.Priority}
		if impl.PlatformSpecific() {
			key.platform = *impl.Platform
		}
		if prev, dup := seen[key]; dup {
			return &AmbiguousMatchError{TaskID: taskID, First: prev, Second: impl.ID, Priority: impl.Priority}
		}
		seen[key] = impl.ID
	}
	return nil
}
