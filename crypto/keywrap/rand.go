// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keywrap

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

var randomSource io.Reader = rand.Reader

// SetRandSource sets the source of random numbers used for nonces and
// keys. It is intended primarily for testing and must not be called
// concurrently with any other function in this package.
func SetRandSource(rd io.Reader) {
	randomSource = rd
}

// ReadRandom fills b from the package's random source.
func ReadRandom(b []byte) error {
	if _, err := io.ReadFull(randomSource, b); err != nil {
		return errors.E(errors.Unavailable,
			fmt.Sprintf("keywrap: failed to read %d bytes of random data", len(b)), err)
	}
	return nil
}

// GenerateDataKey returns a fresh random data key. Callers should Zero
// it once it is no longer needed.
func GenerateDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if err := ReadRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSecret returns fresh random material suitable for
// NewMasterKey.
func GenerateSecret() ([]byte, error) {
	return GenerateDataKey()
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
