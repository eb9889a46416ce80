// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keywrap

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// KeySize is the size in bytes of master keys and data keys.
const KeySize = 32

// MasterKey is a named AES-256 key. The secret is never printed or
// serialized; String and GoString report only the name.
type MasterKey struct {
	// Name identifies the key in wrapped keys.
	Name   string
	secret [KeySize]byte
}

// NewMasterKey returns a master key with the given name and secret.
// The secret must be exactly KeySize bytes; it is copied.
func NewMasterKey(name string, secret []byte) (MasterKey, error) {
	if name == "" {
		return MasterKey{}, errors.E(errors.Invalid, "keywrap: master key name is empty")
	}
	if len(secret) != KeySize {
		return MasterKey{}, errors.E(errors.Invalid,
			fmt.Sprintf("keywrap: master key %s is %d bytes, want %d", name, len(secret), KeySize))
	}
	k := MasterKey{Name: name}
	copy(k.secret[:], secret)
	return k, nil
}

// ParseMasterKey returns a master key whose secret is given as a hex
// string of 2*KeySize digits. Surrounding whitespace is ignored.
func ParseMasterKey(name, hexSecret string) (MasterKey, error) {
	secret, err := hex.DecodeString(strings.TrimSpace(hexSecret))
	if err != nil {
		return MasterKey{}, errors.E(errors.Invalid, "keywrap: master key", name, "is not hex encoded", err)
	}
	defer Zero(secret)
	return NewMasterKey(name, secret)
}

// String implements fmt.Stringer.
func (k MasterKey) String() string {
	return fmt.Sprintf("MasterKey(%s)", k.Name)
}

// GoString implements fmt.GoStringer so that %#v does not print the secret.
func (k MasterKey) GoString() string {
	return k.String()
}
