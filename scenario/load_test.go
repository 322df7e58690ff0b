package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
name: boot-and-login
host_uri: qemu:///system
domain: test-vm
steps:
  - name: wait for boot
    action: wait
    params:
      duration: 30s
  - name: login
    action: send_text
    params:
      text: "user\n"
`

func TestLoadYAMLParsesValidDocument(t *testing.T) {
	s, warnings, err := LoadYAML([]byte(validYAML), Lenient)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "boot-and-login", s.Name)
	assert.Len(t, s.Steps, 2)
}

func TestLoadYAMLLenientWarnsOnUnknownField(t *testing.T) {
	const raw = `
name: x
host_uri: qemu:///system
domain: vm
bogus_field: true
steps: []
`
	s, warnings, err := LoadYAML([]byte(raw), Lenient)
	require.NoError(t, err)
	assert.Equal(t, "x", s.Name)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bogus_field")
}

func TestLoadYAMLStrictRejectsUnknownField(t *testing.T) {
	const raw = `
name: x
host_uri: qemu:///system
domain: vm
steps:
  - name: s1
    action: wait
    bogus_step_field: 1
`
	_, warnings, err := LoadYAML([]byte(raw), Strict)
	require.Error(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bogus_step_field")
}

func TestLoadYAMLRejectsMalformedYAML(t *testing.T) {
	_, _, err := LoadYAML([]byte("not: [valid"), Lenient)
	assert.Error(t, err)
}

func TestLoadJSONParsesValidDocument(t *testing.T) {
	const raw = `{"name":"j1","host_uri":"qemu:///system","domain":"vm","steps":[{"name":"s1","action":"wait","params":{"duration":"1s"}}]}`
	s, warnings, err := LoadJSON([]byte(raw), Strict)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "j1", s.Name)
}

func TestLoadJSONStrictRejectsUnknownField(t *testing.T) {
	const raw = `{"name":"j1","host_uri":"x","domain":"vm","steps":[],"bogus":1}`
	_, _, err := LoadJSON([]byte(raw), Strict)
	assert.Error(t, err)
}

func TestLoadJSONLenientFallsBackOnUnknownField(t *testing.T) {
	const raw = `{"name":"j1","host_uri":"x","domain":"vm","steps":[],"bogus":1}`
	s, warnings, err := LoadJSON([]byte(raw), Lenient)
	require.NoError(t, err)
	assert.Equal(t, "j1", s.Name)
	assert.NotEmpty(t, warnings)
}
