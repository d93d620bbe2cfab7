package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/pkg/schema"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

const validDoc = `{
  "name": "boot",
  "route": [3],
  "nodes": [
    {"name": "banner", "type": 70, "payload_text": "BoxOS ready"},
    {"name": "beep", "type": 74, "depends_on": [0]}
  ]
}`

func TestValidDocumentParses(t *testing.T) {
	v := newValidator(t)

	doc, err := v.Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, "boot", doc.Name)
	assert.Equal(t, []uint8{3}, doc.Route)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, []int{0}, doc.Nodes[1].DependsOn)
}

func TestTemplatesEncodePayloads(t *testing.T) {
	v := newValidator(t)

	doc, err := v.Parse([]byte(validDoc))
	require.NoError(t, err)
	templates, err := doc.Templates()
	require.NoError(t, err)

	var p [schema.PayloadSize]byte
	copy(p[:], templates[0].Payload)
	text, err := schema.DecodeConsoleWrite(&p)
	require.NoError(t, err)
	assert.Equal(t, "BoxOS ready", string(text))
	assert.Nil(t, templates[1].Payload)
}

func TestHexPayloadDecodes(t *testing.T) {
	v := newValidator(t)

	doc, err := v.Parse([]byte(`{
	  "name": "raw",
	  "route": [3],
	  "nodes": [{"name": "sleep", "type": 52, "payload_hex": "3200000000000000"}]
	}`))
	require.NoError(t, err)
	templates, err := doc.Templates()
	require.NoError(t, err)

	var p [schema.PayloadSize]byte
	copy(p[:], templates[0].Payload)
	ms, err := schema.DecodeTimerSleep(&p)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), ms)
}

func TestRejectsSchemaViolations(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"missing name", `{"route": [3], "nodes": [{"name": "a", "type": 70}]}`},
		{"empty route", `{"name": "x", "route": [], "nodes": [{"name": "a", "type": 70}]}`},
		{"route too long", `{"name": "x", "route": [1,2,3,4,5,6,7,8,9], "nodes": [{"name": "a", "type": 70}]}`},
		{"deck zero in route", `{"name": "x", "route": [0], "nodes": [{"name": "a", "type": 70}]}`},
		{"no nodes", `{"name": "x", "route": [3], "nodes": []}`},
		{"node missing type", `{"name": "x", "route": [3], "nodes": [{"name": "a"}]}`},
		{"odd hex", `{"name": "x", "route": [3], "nodes": [{"name": "a", "type": 70, "payload_hex": "abc"}]}`},
		{"unknown field", `{"name": "x", "route": [3], "nodes": [{"name": "a", "type": 70}], "extra": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Equal(t, schema.ErrInvalidParameter, schema.CodeOf(err))
		})
	}
}

func TestRejectsDuplicateNodeNames(t *testing.T) {
	v := newValidator(t)
	_, err := v.Parse([]byte(`{
	  "name": "x",
	  "route": [3],
	  "nodes": [{"name": "a", "type": 70}, {"name": "a", "type": 74}]
	}`))
	require.Error(t, err)
}

func TestRejectsBothPayloadForms(t *testing.T) {
	v := newValidator(t)
	_, err := v.Parse([]byte(`{
	  "name": "x",
	  "route": [3],
	  "nodes": [{"name": "a", "type": 70, "payload_text": "hi", "payload_hex": "00"}]
	}`))
	require.Error(t, err)
}
