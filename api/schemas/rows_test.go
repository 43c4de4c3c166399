package schemas_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

func TestRow_Order(t *testing.T) {
	t.Parallel()
	r := schemas.NewRow("Name", "Widget", "Price", "$1.00", "SKU", "W-1")
	r.Set("Price", "$2.00")
	r.Set("Stock", "4")

	assert.Equal(t, []string{"Name", "Price", "SKU", "Stock"}, r.Keys(), "overwrites keep the original position")
	assert.Equal(t, 4, r.Len())
	v, ok := r.Get("Price")
	assert.True(t, ok)
	assert.Equal(t, "$2.00", v)
	assert.False(t, r.IsSynthetic())

	keys := r.Keys()
	keys[0] = "mutated"
	assert.Equal(t, "Name", r.Keys()[0], "Keys returns a copy")
}

func TestRow_ZeroValue(t *testing.T) {
	t.Parallel()
	var r schemas.Row
	assert.Zero(t, r.Len())
	assert.False(t, r.Has("x"))

	data, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	r.Set("x", "1")
	assert.True(t, r.Has("x"))
}

func TestRow_JSON(t *testing.T) {
	t.Parallel()
	r := schemas.NewRow("z", "last letter", "a", `quote " and <tag>`, schemas.FieldSynthetic, schemas.SyntheticPlaceholder)
	assert.True(t, r.IsSynthetic())

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Regexp(t, `^\{"z":.*,"a":.*,"_synthetic":"placeholder"\}$`, string(data), "document order follows insertion order")

	var decoded schemas.Row
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Keys(), decoded.Keys())
	if diff := cmp.Diff(r.Map(), decoded.Map()); diff != "" {
		t.Errorf("decoded row mismatch (-want +got):\n%s", diff)
	}
}

func TestRow_UnmarshalRejectsNonStrings(t *testing.T) {
	t.Parallel()
	var r schemas.Row
	err := json.Unmarshal([]byte(`{"Name":"Widget","Price":12.5}`), &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Price")
}
