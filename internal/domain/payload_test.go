package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.Equal(t, `{"b":"2","a":"1"}`, string(data))

	var out Payload
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, p, out)
}

func TestPayloadGet(t *testing.T) {
	p := Payload{{Key: "file_path", Value: "/tmp/x.txt"}}
	v, ok := p.Get("file_path")
	require.True(t, ok)
	require.Equal(t, "/tmp/x.txt", v)

	_, ok = p.Get("missing")
	require.False(t, ok)
}
