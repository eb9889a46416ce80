// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keywrap

import (
	"encoding/hex"
	"fmt"
)

// Hex is a byte slice that is marshaled to JSON as a hex encoded string.
type Hex []byte

// MarshalJSON marshals h as a hex encoded string.
func (h Hex) MarshalJSON() ([]byte, error) {
	if len(h) == 0 {
		return []byte(`""`), nil
	}
	dst := make([]byte, hex.EncodedLen(len(h))+2)
	hex.Encode(dst[1:], h)
	dst[0], dst[len(dst)-1] = '"', '"'
	return dst, nil
}

// UnmarshalJSON unmarshals a hex encoded string into h.
func (h *Hex) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("hex value is not quoted")
	}
	data = data[1 : len(data)-1]
	*h = make([]byte, hex.DecodedLen(len(data)))
	_, err := hex.Decode(*h, data)
	return err
}
