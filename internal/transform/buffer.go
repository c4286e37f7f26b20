package transform

import (
	"encoding/json"
	"math"

	"github.com/acme-corp/seed-loader/internal/ingestion"
)

const bufferTag = "Buffer"

// DecodeBuffers replaces, in place, every top-level field holding a tagged
// binary value {"type":"Buffer","data":[...]} with the raw bytes.
//
// An object is decoded when its "type" is "Buffer" and its "data" is an
// array of integers in [0,255]; other keys beside those two are dropped.
// Anything else, including null, is left untouched, so calling
// DecodeBuffers twice is harmless.
func DecodeBuffers(seed ingestion.Seed) {
	for field, value := range seed {
		if raw, ok := decodeBuffer(value); ok {
			seed[field] = raw
		}
	}
}

// EncodeBuffer returns the tagged JSON representation of b.
func EncodeBuffer(b []byte) map[string]interface{} {
	data := make([]interface{}, len(b))
	for i, c := range b {
		data[i] = float64(c)
	}
	return map[string]interface{}{
		"type": bufferTag,
		"data": data,
	}
}

func decodeBuffer(value interface{}) ([]byte, bool) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if tag, _ := obj["type"].(string); tag != bufferTag {
		return nil, false
	}
	data, ok := obj["data"].([]interface{})
	if !ok {
		return nil, false
	}

	out := make([]byte, len(data))
	for i, elem := range data {
		c, ok := toByte(elem)
		if !ok {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

// toByte accepts both number representations encoding/json produces.
func toByte(elem interface{}) (byte, bool) {
	var n float64
	switch v := elem.(type) {
	case float64:
		n = v
	case json.Number:
		i, err := v.Int64()
		if err != nil || i < 0 || i > math.MaxUint8 {
			return 0, false
		}
		return byte(i), true
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxUint8 || n != math.Trunc(n) {
		return 0, false
	}
	return byte(n), true
}
