// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package json selects the JSON implementation for queue envelopes and API
// payloads. Production uses sonic; tests run the stdlib-compatible config
// so failure output stays byte-stable.
package json

import (
	"testing"

	sonicjson "github.com/bytedance/sonic"
)

var (
	Unmarshal  = sonicjson.ConfigDefault.Unmarshal
	Marshal    = sonicjson.ConfigDefault.Marshal
	NewEncoder = sonicjson.ConfigDefault.NewEncoder
	NewDecoder = sonicjson.ConfigDefault.NewDecoder
	Valid      = sonicjson.ConfigDefault.Valid
)

type RawMessage = sonicjson.NoCopyRawMessage

func init() {
	if testing.Testing() {
		config := sonicjson.ConfigStd
		Unmarshal = config.Unmarshal
		Marshal = config.Marshal
		NewEncoder = config.NewEncoder
		NewDecoder = config.NewDecoder
	}
}
