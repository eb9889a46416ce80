// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/grailbio/base/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Algorithm identifies the wrapping construction recorded in every
	// wrapped key.
	Algorithm = "AES256_GCM_IV12_TAG16_NO_PADDING"
	// NonceSize is the size of the per-wrap GCM nonce.
	NonceSize = 12
	// TagSize is the size of the GCM authentication tag.
	TagSize = 16
	// DefaultNamespace is used when New is called with an empty namespace.
	DefaultNamespace = "image-angel"
)

// WrappedKey is a data key encrypted under a master key, labelled with
// the identity of that master key.
type WrappedKey struct {
	Namespace  string `json:"namespace"`
	KeyName    string `json:"keyName"`
	Algorithm  string `json:"algorithm"`
	Nonce      Hex    `json:"nonce"`
	Ciphertext Hex    `json:"ciphertext"`
}

// Provider wraps and unwraps data keys under a single master key.
// It is immutable and safe for concurrent use.
type Provider struct {
	namespace, name string
	aead            cipher.AEAD
}

// New returns a provider for the given master key. An empty namespace
// selects DefaultNamespace.
func New(namespace string, key MasterKey) (*Provider, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if key.Name == "" {
		return nil, errors.E(errors.Invalid, "keywrap: master key has no name")
	}
	block, err := aes.NewCipher(key.secret[:])
	if err != nil {
		return nil, errors.E(errors.Invalid, "keywrap: master key", key.Name, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.E(errors.Invalid, "keywrap: master key", key.Name, err)
	}
	return &Provider{namespace: namespace, name: key.Name, aead: aead}, nil
}

// Namespace returns the provider's key namespace.
func (p *Provider) Namespace() string { return p.namespace }

// KeyName returns the name of the provider's master key.
func (p *Provider) KeyName() string { return p.name }

// Wrap encrypts dataKey under the master key using a fresh random
// nonce. The supplied aad must be presented again to Unwrap.
func (p *Provider) Wrap(dataKey, aad []byte) (WrappedKey, error) {
	if len(dataKey) != KeySize {
		return WrappedKey{}, errors.E(errors.Invalid,
			fmt.Sprintf("keywrap: data key is %d bytes, want %d", len(dataKey), KeySize))
	}
	nonce := make([]byte, NonceSize)
	if err := ReadRandom(nonce); err != nil {
		return WrappedKey{}, err
	}
	w := WrappedKey{
		Namespace: p.namespace,
		KeyName:   p.name,
		Algorithm: Algorithm,
		Nonce:     nonce,
	}
	w.Ciphertext = p.aead.Seal(nil, nonce, dataKey, w.associatedData(aad))
	return w, nil
}

// Unwrap decrypts a key produced by Wrap. It fails with an error of
// kind errors.Integrity if w was not wrapped by this provider's master
// key under the same aad, or if any part of w has been modified.
func (p *Provider) Unwrap(w WrappedKey, aad []byte) ([]byte, error) {
	switch {
	case w.Algorithm != Algorithm:
		return nil, integrityError(fmt.Sprintf("unsupported wrapping algorithm %q", w.Algorithm))
	case w.Namespace != p.namespace || w.KeyName != p.name:
		return nil, integrityError(fmt.Sprintf("key wrapped under %s/%s, provider holds %s/%s",
			w.Namespace, w.KeyName, p.namespace, p.name))
	case len(w.Nonce) != NonceSize:
		return nil, integrityError(fmt.Sprintf("nonce is %d bytes, want %d", len(w.Nonce), NonceSize))
	case len(w.Ciphertext) != KeySize+TagSize:
		return nil, integrityError(fmt.Sprintf("wrapped key is %d bytes, want %d", len(w.Ciphertext), KeySize+TagSize))
	}
	dataKey, err := p.aead.Open(nil, w.Nonce, w.Ciphertext, w.associatedData(aad))
	if err != nil {
		return nil, errors.E(errors.Integrity, errors.Fatal, "keywrap: unwrap", err)
	}
	return dataKey, nil
}

// associatedData binds the key's labels and the caller's aad. Each
// component is length prefixed so no two label sets share an encoding.
func (w *WrappedKey) associatedData(aad []byte) []byte {
	var b []byte
	b = protowire.AppendString(b, w.Namespace)
	b = protowire.AppendString(b, w.KeyName)
	b = protowire.AppendString(b, w.Algorithm)
	b = protowire.AppendBytes(b, aad)
	return b
}

func integrityError(msg string) error {
	return errors.E(errors.Integrity, errors.Fatal, "keywrap: unwrap: "+msg)
}
