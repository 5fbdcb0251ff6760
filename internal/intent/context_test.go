package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprovision/provd/internal/catalog"
)

func testDevice() catalog.DeviceDescriptor {
	return catalog.DeviceDescriptor{
		Manufacturer:    "cisco",
		Platform:        "ios-xe",
		SoftwareVersion: "17.6.1",
		Attributes: map[string]any{
			"name": "sw-core-01",
			"role": "core",
			"ntp":  map[string]any{"servers": []any{"10.0.0.1"}},
		},
	}
}

func TestBuildPrecedence(t *testing.T) {
	overrides := map[string]any{"vlan": 200}
	configContext := map[string]any{"vlan": 100, "domain": "corp.example.net"}

	ctx, err := Build(testDevice(), overrides, configContext)
	require.NoError(t, err)

	vlan, ok := ctx.Value("vlan")
	require.True(t, ok)
	assert.Equal(t, 200, vlan, "override must win over config context")

	domain, ok := ctx.Value("domain")
	require.True(t, ok)
	assert.Equal(t, "corp.example.net", domain)

	role, ok := ctx.Value("role")
	require.True(t, ok)
	assert.Equal(t, "core", role)
}

func TestBuildProvenance(t *testing.T) {
	ctx, err := Build(testDevice(),
		map[string]any{"vlan": 200},
		map[string]any{"vlan": 100, "domain": "corp.example.net"},
	)
	require.NoError(t, err)

	provenance := ctx.Provenance()
	assert.Equal(t, SourceOverride, provenance["vlan"])
	assert.Equal(t, SourceConfigContext, provenance["domain"])
	assert.Equal(t, SourceDevice, provenance["role"])
}

func TestBuildNestedMerge(t *testing.T) {
	configContext := map[string]any{
		"ntp": map[string]any{"prefer": "10.0.0.1"},
	}

	ctx, err := Build(testDevice(), nil, configContext)
	require.NoError(t, err)

	// Config context extends the nested object without dropping siblings.
	servers, ok := ctx.Value("ntp.servers")
	require.True(t, ok)
	assert.Equal(t, []any{"10.0.0.1"}, servers)
	prefer, ok := ctx.Value("ntp.prefer")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", prefer)
}

func TestBuildReservedKeyConflict(t *testing.T) {
	overrides := map[string]any{
		"device": map[string]any{"manufacturer": "juniper"},
	}

	_, err := Build(testDevice(), overrides, nil)
	var conflict *ContextConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "device.manufacturer", conflict.Key)
}

func TestBuildDeviceNamespaceExtension(t *testing.T) {
	configContext := map[string]any{
		"device": map[string]any{"rack": "r12"},
	}

	ctx, err := Build(testDevice(), nil, configContext)
	require.NoError(t, err)

	rack, ok := ctx.Value("device.rack")
	require.True(t, ok)
	assert.Equal(t, "r12", rack)

	// Identity keys are untouched.
	manufacturer, ok := ctx.Value("device.manufacturer")
	require.True(t, ok)
	assert.Equal(t, "cisco", manufacturer)
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	overrides := map[string]any{"vlan": 200}
	configContext := map[string]any{"domain": "corp.example.net"}
	device := testDevice()

	ctx, err := Build(device, overrides, configContext)
	require.NoError(t, err)

	// Mutating the inputs after Build must not change the context.
	overrides["vlan"] = 999
	configContext["domain"] = "changed"
	device.Attributes["role"] = "changed"

	vlan, _ := ctx.Value("vlan")
	assert.Equal(t, 200, vlan)
	domain, _ := ctx.Value("domain")
	assert.Equal(t, "corp.example.net", domain)

	// And mutating the exported map must not change the context either.
	m := ctx.AsMap()
	m["vlan"] = 0
	vlan, _ = ctx.Value("vlan")
	assert.Equal(t, 200, vlan)
}

func TestWithExtendsWithoutMutating(t *testing.T) {
	ctx, err := Build(testDevice(), nil, nil)
	require.NoError(t, err)

	extended, err := ctx.With(map[string]any{"artifact": "rendered"}, SourceOverride)
	require.NoError(t, err)

	_, ok := ctx.Value("artifact")
	assert.False(t, ok)
	artifact, ok := extended.Value("artifact")
	require.True(t, ok)
	assert.Equal(t, "rendered", artifact)
}
