// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeTolerantAcceptsHexString(t *testing.T) {
	b, err := DecodeTolerant("deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
}

func TestDecodeTolerantAcceptsRawBytes(t *testing.T) {
	b, err := DecodeTolerant([]byte{0x01, 0x02})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, b)
}

func TestDecodeTolerantAcceptsWrapperObjects(t *testing.T) {
	for _, field := range wrapperFields {
		v := map[string]interface{}{field: "aabb"}
		b, err := DecodeTolerant(v)
		require.NoError(t, err, "field %s", field)
		require.Equal(t, []byte{0xaa, 0xbb}, b)
	}
}

func TestDecodeTolerantRejectsNonHexString(t *testing.T) {
	_, err := DecodeTolerant("not-hex-zz")
	require.Error(t, err)
}

func TestDecodeTolerantSurfacesErrorShape(t *testing.T) {
	v := map[string]interface{}{
		"error": map[string]interface{}{
			"message": "rejected",
			"code":    float64(16),
		},
	}
	_, err := DecodeTolerant(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rejected")
}

func TestDecodeTolerantRejectsUnknownObjectShape(t *testing.T) {
	_, err := DecodeTolerant(map[string]interface{}{"unexpected": "field"})
	require.Error(t, err)
}

func TestDecodeTolerantHandlesRawJSONMessage(t *testing.T) {
	raw := json.RawMessage(`{"hex": "aabb"}`)
	b, err := DecodeTolerant(raw)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, b)
}

func TestDecodeTolerantRejectsNil(t *testing.T) {
	_, err := DecodeTolerant(nil)
	require.Error(t, err)
}
