package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsNumbersExact(t *testing.T) {
	obj, err := Parse([]byte(`{"id": 12345678901234567890, "ratio": 0.5}`))
	require.NoError(t, err)

	n, ok := obj["id"].Num()
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890", n.String())

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 12345678901234567890, "ratio": 0.5}`, string(out))
}

func TestParseRejectsNonObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	obj, err := Parse([]byte(`{"data":{"id":"abc","items":[{"id":1},{"id":2}]},"empty":null}`))
	require.NoError(t, err)

	v, ok := obj.Lookup("data.id")
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "abc", s)

	v, ok = obj.Lookup("data.items.1.id")
	require.True(t, ok)
	n, _ := v.Num()
	assert.Equal(t, "2", n.String())

	v, ok = obj.Lookup("empty")
	require.True(t, ok)
	assert.True(t, v.IsNull())

	_, ok = obj.Lookup("data.items.7.id")
	assert.False(t, ok)
	_, ok = obj.Lookup("data.id.deeper")
	assert.False(t, ok)
	_, ok = Object(nil).Lookup("data")
	assert.False(t, ok)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"title": "hello",
		"tags":  []string{"a", "b"},
		"count": 3,
		"ok":    true,
		"none":  nil,
	})
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hello","tags":["a","b"],"count":3,"ok":true,"none":null}`, string(out))

	_, err = FromAny(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestObjectFieldRoundTripsInStructs(t *testing.T) {
	type holder struct {
		Response Object `json:"response"`
	}
	var h holder
	require.NoError(t, json.Unmarshal([]byte(`{"response":{"data":{"id":"x"}}}`), &h))

	v, ok := h.Response.Lookup("data.id")
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "x", s)

	require.NoError(t, json.Unmarshal([]byte(`{"response":null}`), &h))
	assert.Nil(t, h.Response)
}
