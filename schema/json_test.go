package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndValidate(t *testing.T) {
	t.Parallel()

	s := &JSON{
		Type: Object,
		Properties: map[string]*JSON{
			"town":    {Type: String},
			"country": {Type: String},
		},
		Required: []string{"town", "country"},
	}

	doc, err := s.AsMap()
	require.NoError(t, err)

	compiled, err := Compile(doc)
	require.NoError(t, err)

	assert.NoError(t, compiled.ValidateJSON(`{"town":"Chicago","country":"United States"}`))
	assert.Error(t, compiled.ValidateJSON(`{"town":"Chicago"}`))
	assert.Error(t, compiled.ValidateJSON(`not json`))
}

func TestCompileRejectsNilDocument(t *testing.T) {
	t.Parallel()

	_, err := Compile(nil)
	assert.Error(t, err)
}
