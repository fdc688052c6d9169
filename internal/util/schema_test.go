package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Tool   string            `json:"tool" description:"Tool name"`
	Params map[string]string `json:"params" description:"Tool parameters"`
}

type sample struct {
	Reasoning string   `json:"reasoning" description:"Why"`
	Steps     []nested `json:"steps" description:"Ordered steps"`
	Note      *string  `json:"note" description:"Optional pointer field"`
	Count     int      `json:"count,omitempty"`
	hidden    string
	Skipped   string   `json:"-"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sample{})
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "reasoning")
	assert.Contains(t, props, "steps")
	assert.Contains(t, props, "note")
	assert.Contains(t, props, "count")
	assert.NotContains(t, props, "hidden")
	assert.NotContains(t, props, "Skipped")

	// Required excludes pointer and omitempty fields.
	req, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"reasoning", "steps"}, req)

	// Descriptions carried through.
	reasoning, _ := props["reasoning"].(map[string]any)
	assert.Equal(t, "Why", reasoning["description"])
}

func TestCreateSchema_NestedTypes(t *testing.T) {
	schema := CreateSchema(sample{})
	props := schema["properties"].(map[string]any)

	steps, _ := props["steps"].(map[string]any)
	assert.Equal(t, "array", steps["type"])

	items, _ := steps["items"].(map[string]any)
	assert.Equal(t, "object", items["type"])

	itemProps, _ := items["properties"].(map[string]any)
	params, _ := itemProps["params"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, map[string]any{"type": "string"}, params["additionalProperties"])
}

func TestCreateSchema_Scalars(t *testing.T) {
	type scalars struct {
		S string  `json:"s"`
		I int     `json:"i"`
		F float64 `json:"f"`
		B bool    `json:"b"`
	}

	props := CreateSchema(scalars{})["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, props["s"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["i"])
	assert.Equal(t, map[string]any{"type": "number"}, props["f"])
	assert.Equal(t, map[string]any{"type": "boolean"}, props["b"])
}

func TestCreateSchema_PointerInput(t *testing.T) {
	assert.Equal(t, CreateSchema(sample{}), CreateSchema(&sample{}))
}
