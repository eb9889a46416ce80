// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package keywrap wraps and unwraps ephemeral data keys under a named,
// long lived master key.
//
// Wrapping uses AES-256-GCM with a 12 byte random nonce, a 16 byte
// authentication tag and no padding. A fresh nonce is drawn for every
// call to Wrap; nonces are never derived or counted, so a Provider may
// be shared freely between goroutines.
//
// A wrapped key records, in the clear, the namespace and name of the
// master key it was wrapped under together with the wrapping algorithm.
// These fields are also bound into the GCM associated data, so a
// wrapped key cannot be relabelled to claim another master key, and
// Unwrap refuses keys whose labels do not match the provider. Only a
// single master key per provider is supported: there is no discovery
// protocol for picking among several keys.
//
// The layout of a wrapped key is:
//
//	namespace   string
//	key name    string
//	algorithm   string ("AES256_GCM_IV12_TAG16_NO_PADDING")
//	nonce       12 bytes
//	ciphertext  encrypted data key (32 bytes) followed by the 16 byte tag
//
// Failures to authenticate a wrapped key are reported as errors of kind
// errors.Integrity (see github.com/grailbio/base/errors).
package keywrap
