package cqrs_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parrrate/cqrs/core/cqrs"
)

func TestParseSemanticVersion(t *testing.T) {
	v, err := cqrs.ParseSemanticVersion("1.2.3")
	require.NoError(t, err)
	require.Equal(t, cqrs.SemanticVersion{Major: 1, Minor: 2, Patch: 3}, v)
	require.Equal(t, "1.2.3", v.String())

	for _, bad := range []string{"", "1", "1.2", "1.2.3.4", "a.b.c", "1.-2.3", "v1.2.3"} {
		_, err := cqrs.ParseSemanticVersion(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestSemanticVersion_Compare(t *testing.T) {
	v := cqrs.MustSemanticVersion

	require.True(t, v("1.0.0").Less(v("2.0.0")))
	require.True(t, v("1.9.9").Less(v("2.0.0")))
	require.True(t, v("1.0.0").Less(v("1.1.0")))
	require.True(t, v("1.1.0").Less(v("1.1.1")))
	require.False(t, v("2.0.0").Less(v("1.9.9")))
	require.True(t, v("1.2.3").Equal(v("1.2.3")))
	require.Equal(t, 0, v("1.2.3").Compare(v("1.2.3")))
	require.Equal(t, 1, v("1.2.4").Compare(v("1.2.3")))
	require.Equal(t, -1, v("0.9.0").Compare(v("1.0.0")))
}

func TestSemanticVersion_JSON(t *testing.T) {
	v := cqrs.MustSemanticVersion("2.1.0")

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `"2.1.0"`, string(data))

	var out cqrs.SemanticVersion
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, v.Equal(out))

	require.Error(t, json.Unmarshal([]byte(`"nope"`), &out))
	require.Error(t, json.Unmarshal([]byte(`17`), &out))
}

func TestMustSemanticVersion_Panics(t *testing.T) {
	require.Panics(t, func() { cqrs.MustSemanticVersion("not-a-version") })
}

func TestSemanticVersion_SlogAttr(t *testing.T) {
	v := cqrs.MustSemanticVersion("1.2.3")

	attr := v.SlogAttr()
	require.Equal(t, "version", attr.Key)
	require.Equal(t, "1.2.3", attr.Value.String())

	attr = v.SlogAttrWithKey("snapshot_version")
	require.Equal(t, "snapshot_version", attr.Key)
	require.Equal(t, "1.2.3", attr.Value.String())
}
