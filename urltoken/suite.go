// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package urltoken

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/imageangel/crypto/keywrap"
	"golang.org/x/crypto/hkdf"
)

// Suite identifies the algorithm suite used to seal an envelope.
type Suite uint16

// SuiteCommitKey is AES-256-GCM with HKDF-SHA512 key derivation and key
// commitment. It is the only suite supported.
const SuiteCommitKey Suite = 0x0478

const (
	// MessageIDSize is the size of the random per-envelope salt.
	MessageIDSize = 32
	// CommitmentSize is the size of the key commitment.
	CommitmentSize = 32
	// NonceSize is the size of the payload nonce.
	NonceSize = 12
	// TagSize is the size of the payload authentication tag.
	TagSize = 16
)

var (
	deriveKeyLabel = []byte("DERIVEKEY")
	commitKeyLabel = []byte("COMMITKEY")
)

func (s Suite) String() string {
	if s == SuiteCommitKey {
		return "AES256_GCM_HKDF_SHA512_COMMIT_KEY"
	}
	return fmt.Sprintf("Suite(0x%04x)", uint16(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Suite) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// deriveKeys returns the content encryption key and the key commitment
// for the given data key and message ID.
func (s Suite) deriveKeys(dataKey, messageID []byte) (encKey, commitment []byte, err error) {
	info := binary.BigEndian.AppendUint16(nil, uint16(s))
	info = append(info, deriveKeyLabel...)
	encKey = make([]byte, keywrap.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, dataKey, messageID, info), encKey); err != nil {
		return nil, nil, errors.E(errors.Invalid, "urltoken: derive content key", err)
	}
	commitment = make([]byte, CommitmentSize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, dataKey, messageID, commitKeyLabel), commitment); err != nil {
		keywrap.Zero(encKey)
		return nil, nil, errors.E(errors.Invalid, "urltoken: derive commitment", err)
	}
	return encKey, commitment, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(errors.Invalid, "urltoken: content key", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.E(errors.Invalid, "urltoken: content key", err)
	}
	return aead, nil
}
