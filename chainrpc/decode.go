// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// wrapperFields is the set of field names a wrapped raw-tx response may
// carry the payload under, per spec.md §4.9/§6.
var wrapperFields = []string{"hex", "raw", "result", "data", "tx", "transaction"}

// DecodeTolerant normalizes a chain-oracle response into raw bytes,
// per spec.md §6: "responses are normalized through a tolerant decoder
// that accepts hex strings, raw bytes, or wrapper objects keyed by
// common field names; errors wrapped as {error:{message|code}} are
// surfaced." v may be a hex string, a []byte, a map[string]interface{}
// (from a decoded JSON object), or any of those nested one level under
// a wrapper key.
func DecodeTolerant(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("chainrpc: nil response")
	case []byte:
		return val, nil
	case string:
		b, err := hex.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("chainrpc: response is not valid hex: %w", err)
		}
		return b, nil
	case map[string]interface{}:
		if errObj, ok := val["error"]; ok && errObj != nil {
			return nil, decodeRPCError(errObj)
		}
		for _, field := range wrapperFields {
			if inner, ok := val[field]; ok && inner != nil {
				return DecodeTolerant(inner)
			}
		}
		return nil, fmt.Errorf("chainrpc: response object carries none of %v", wrapperFields)
	case json.RawMessage:
		return decodeRawMessage(val)
	default:
		return nil, fmt.Errorf("chainrpc: unsupported response shape %T", v)
	}
}

// decodeRawMessage re-decodes a json.RawMessage into a generic Go
// value and recurses through DecodeTolerant, used when a caller has
// already partially decoded a JSON-RPC envelope.
func decodeRawMessage(raw json.RawMessage) ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("chainrpc: invalid JSON response: %w", err)
	}
	return DecodeTolerant(generic)
}

// decodeRPCError renders the `{error:{message|code}}` shape as a Go error.
func decodeRPCError(errObj interface{}) error {
	m, ok := errObj.(map[string]interface{})
	if !ok {
		return fmt.Errorf("chainrpc: rpc error: %v", errObj)
	}
	message, _ := m["message"].(string)
	if code, ok := m["code"]; ok {
		return fmt.Errorf("chainrpc: rpc error (code %v): %s", code, message)
	}
	return fmt.Errorf("chainrpc: rpc error: %s", message)
}
