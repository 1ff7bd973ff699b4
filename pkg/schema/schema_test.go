package schema_test

import (
	"errors"
	"testing"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		text  string
		good  any
		bad   any
		wants string
	}{
		{"string", "java:/ds", 1, "string"},
		{"int", float64(20), 2.5, "int"},
		{"float", 2.5, "x", "float"},
		{"bool", true, "true", "bool"},
		{"object", map[string]any{"a": 1}, []any{}, "object"},
		{"[string]", []any{"a", "b"}, []any{"a", 1}, "[string]"},
		{"[[int]]", []any{[]any{1, 2}}, []any{1}, "[[int]]"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			typ, err := schema.ParseType(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wants, typ.Name())
			assert.NoError(t, typ.Validate(tt.good))
			assert.Error(t, typ.Validate(tt.bad))
		})
	}

	_, err := schema.ParseType("decimal")
	assert.Error(t, err)
}

func TestDescription(t *testing.T) {
	d, err := schema.ParseDescription(map[string]string{
		"jndi-name":     "string!",
		"max-pool-size": "int",
		"enabled":       "bool",
	})
	require.NoError(t, err)

	t.Run("Check accepts extra attributes", func(t *testing.T) {
		assert.NoError(t, d.Check(map[string]any{"jndi-name": "java:/ds", "driver": "h2"}))
	})

	t.Run("Check reports every field", func(t *testing.T) {
		err := d.Check(map[string]any{"max-pool-size": "lots", "enabled": "yes"})
		fields := schema.FieldErrors(err)
		require.Len(t, fields, 3)
		assert.Equal(t, "enabled", fields[0].Attribute)
		assert.Equal(t, "jndi-name", fields[1].Attribute)
		assert.Equal(t, "required", fields[1].Reason)
		assert.Equal(t, "max-pool-size", fields[2].Attribute)
	})

	t.Run("CheckWrite", func(t *testing.T) {
		assert.NoError(t, d.CheckWrite("max-pool-size", float64(10)))
		assert.NoError(t, d.CheckWrite("unknown", struct{}{}))
		assert.Error(t, d.CheckWrite("max-pool-size", "ten"))
		assert.Error(t, d.CheckWrite("jndi-name", nil))
	})

	t.Run("CheckUndefine", func(t *testing.T) {
		assert.NoError(t, d.CheckUndefine("enabled"))
		var fe *schema.FieldError
		assert.True(t, errors.As(d.CheckUndefine("jndi-name"), &fe))
	})

	_, err = schema.ParseDescription(map[string]string{"x": "decimal!"})
	assert.Error(t, err)
}

func TestCatalog_MostSpecificWins(t *testing.T) {
	cat := schema.NewCatalog()
	generic := schema.Description{"value": {Type: schema.String()}}
	specific := schema.Description{"value": {Type: schema.Int(), Required: true}}

	require.NoError(t, cat.Register(domain.MustParseAddress("/host=*/system-property=*"), generic))
	require.NoError(t, cat.Register(domain.MustParseAddress("/host=master/system-property=*"), specific))
	err := cat.Register(domain.MustParseAddress("/host=*/system-property=*"), generic)
	assert.ErrorIs(t, err, schema.ErrDuplicateDescription)
	assert.Equal(t, 2, cat.Len())

	d, ok := cat.Lookup(domain.MustParseAddress("/host=master/system-property=port"))
	require.True(t, ok)
	assert.True(t, d["value"].Required)

	d, ok = cat.Lookup(domain.MustParseAddress("/host=slave/system-property=port"))
	require.True(t, ok)
	assert.False(t, d["value"].Required)

	_, ok = cat.Lookup(domain.MustParseAddress("/subsystem=logging"))
	assert.False(t, ok)
}
