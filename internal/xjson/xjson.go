// Package xjson wraps goccy/go-json so every package in the module encodes
// through a single import site.
package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

// Number is kept compatible with encoding/json's Number type.
type Number = stdjson.Number

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Convert round-trips src through JSON into dst. It is used to decode loosely
// typed configuration maps into typed structs.
func Convert(src any, dst any) error {
	data, err := gjson.Marshal(src)
	if err != nil {
		return err
	}
	return gjson.Unmarshal(data, dst)
}
