// Package intent builds the render context for a device: the merged view of
// native device attributes, config-context data, and intended overrides that
// templates and step expressions read from.
package intent

import (
	"fmt"

	"github.com/openprovision/provd/internal/catalog"
)

// Merge precedence, highest wins on key collision.
const (
	SourceOverride      = "override"
	SourceConfigContext = "config_context"
	SourceDevice        = "device"
)

// reservedDeviceKeys can never be changed by config context or overrides:
// they identify the device the render is for.
var reservedDeviceKeys = map[string]bool{
	"id":               true,
	"manufacturer":     true,
	"platform":         true,
	"software_version": true,
}

// ContextConflictError reports an attempt to override a reserved key.
type ContextConflictError struct {
	Key string
}

func (e *ContextConflictError) Error() string {
	return fmt.Sprintf("context conflict: %q is reserved and cannot be overridden", e.Key)
}

// RenderContext is the immutable merged mapping a single render reads from.
// Build copies every input, and AsMap returns a fresh deep copy, so neither
// the caller's maps nor a renderer's view can mutate the built context.
type RenderContext struct {
	values     map[string]any
	provenance map[string]string
}

// Build merges device attributes, config-context data and intended overrides
// into one context. Precedence on collision: overrides > config context >
// device attributes. The device identity keys under "device" are reserved.
func Build(device catalog.DeviceDescriptor, overrides, configContext map[string]any) (*RenderContext, error) {
	values := make(map[string]any)
	provenance := make(map[string]string)

	deviceNS := map[string]any{
		"manufacturer":     device.Manufacturer,
		"platform":         device.Platform,
		"software_version": device.SoftwareVersion,
	}
	for k, v := range device.Attributes {
		deviceNS[k] = deepCopy(v)
	}
	values["device"] = deviceNS
	provenance["device"] = SourceDevice

	for k, v := range device.Attributes {
		values[k] = deepCopy(v)
		provenance[k] = SourceDevice
	}

	if err := mergeLayer(values, provenance, configContext, SourceConfigContext); err != nil {
		return nil, err
	}
	if err := mergeLayer(values, provenance, overrides, SourceOverride); err != nil {
		return nil, err
	}

	return &RenderContext{values: values, provenance: provenance}, nil
}

// mergeLayer applies one precedence layer onto the accumulated values. The
// "device" namespace is merged key-wise so extra device-scoped data can be
// layered in, but reserved identity keys reject any change.
func mergeLayer(values map[string]any, provenance map[string]string, layer map[string]any, source string) error {
	for k, v := range layer {
		if k == "device" {
			nested, ok := v.(map[string]any)
			if !ok {
				return &ContextConflictError{Key: "device"}
			}
			deviceNS := values["device"].(map[string]any)
			for dk, dv := range nested {
				if reservedDeviceKeys[dk] {
					return &ContextConflictError{Key: "device." + dk}
				}
				deviceNS[dk] = deepCopy(dv)
			}
			continue
		}
		values[k] = mergeValue(values[k], v)
		provenance[k] = source
	}
	return nil
}

// mergeValue deep-merges maps so a layer can extend nested objects without
// clobbering sibling keys; any other type replaces wholesale.
func mergeValue(existing, incoming any) any {
	existingMap, okA := existing.(map[string]any)
	incomingMap, okB := incoming.(map[string]any)
	if !okA || !okB {
		return deepCopy(incoming)
	}
	merged := make(map[string]any, len(existingMap)+len(incomingMap))
	for k, v := range existingMap {
		merged[k] = v
	}
	for k, v := range incomingMap {
		merged[k] = mergeValue(merged[k], v)
	}
	return merged
}

// Value resolves a dot-separated path into the context.
func (c *RenderContext) Value(path string) (any, bool) {
	return lookupPath(c.values, path)
}

// Provenance reports which layer supplied a top-level key.
func (c *RenderContext) Provenance() map[string]string {
	out := make(map[string]string, len(c.provenance))
	for k, v := range c.provenance {
		out[k] = v
	}
	return out
}

// AsMap returns a deep copy of the merged values for template execution.
func (c *RenderContext) AsMap() map[string]any {
	return deepCopy(c.values).(map[string]any)
}

// With returns a new context extending this one with extra top-level keys,
// leaving the receiver untouched. Reserved device keys still apply.
func (c *RenderContext) With(extra map[string]any, source string) (*RenderContext, error) {
	values := deepCopy(c.values).(map[string]any)
	provenance := c.Provenance()
	if err := mergeLayer(values, provenance, extra, source); err != nil {
		return nil, err
	}
	return &RenderContext{values: values, provenance: provenance}, nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func lookupPath(values map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = values
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			key := path[start:i]
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[key]
			if !ok {
				return nil, false
			}
			start = i + 1
		}
	}
	return current, true
}
