package tagcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name     string   `json:"name"`
	Count    int      `json:"count"`
	Active   bool     `json:"active"`
	Tags     []string `json:"tags"`
	Optional *string  `json:"optional"`
}

func TestRoundTrip(t *testing.T) {
	opt := "present"
	in := sample{
		Name:     "offer-1",
		Count:    7,
		Active:   true,
		Tags:     []string{"a", "b"},
		Optional: &opt,
	}

	tags, err := Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Decode(tags, &out))

	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Count, out.Count)
	assert.Equal(t, in.Active, out.Active)
	assert.Equal(t, in.Tags, out.Tags)
	require.NotNil(t, out.Optional)
	assert.Equal(t, *in.Optional, *out.Optional)
}

func TestNilPointerEncodesNull(t *testing.T) {
	in := sample{Name: "x"}
	tags, err := Encode(in)
	require.NoError(t, err)

	found := false
	for _, tag := range tags {
		if tag.Key == "optional" {
			found = true
			assert.Equal(t, "null", tag.Value)
		}
	}
	assert.True(t, found)

	var out sample
	require.NoError(t, Decode(tags, &out))
	assert.Nil(t, out.Optional)
}

func TestSubset(t *testing.T) {
	want := map[string]struct{}{"a": {}, "b": {}}
	have := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	assert.True(t, Subset(want, have))

	have2 := map[string]struct{}{"a": {}}
	assert.False(t, Subset(want, have2))
}

func TestListEncodesAsJSON(t *testing.T) {
	in := sample{Tags: []string{"x", "y"}}
	tags, err := Encode(in)
	require.NoError(t, err)

	for _, tag := range tags {
		if tag.Key == "tags" {
			assert.Equal(t, `["x","y"]`, tag.Value)
		}
	}
}
