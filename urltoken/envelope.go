// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package urltoken

import (
	"bytes"
	"fmt"
	"math"

	"github.com/grailbio/imageangel/crypto/keywrap"
	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the envelope format version.
const Version = 1

const (
	fieldVersion    protowire.Number = 1
	fieldSuite      protowire.Number = 2
	fieldMessageID  protowire.Number = 3
	fieldContext    protowire.Number = 4
	fieldWrappedKey protowire.Number = 5
	fieldCommitment protowire.Number = 6
	fieldNonce      protowire.Number = 7
	fieldCiphertext protowire.Number = 8
)

const (
	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2
)

const (
	wrappedNamespace  protowire.Number = 1
	wrappedKeyName    protowire.Number = 2
	wrappedAlgorithm  protowire.Number = 3
	wrappedNonce      protowire.Number = 4
	wrappedCiphertext protowire.Number = 5
)

var (
	envelopeSchema = map[protowire.Number]protowire.Type{
		fieldVersion:    protowire.VarintType,
		fieldSuite:      protowire.VarintType,
		fieldMessageID:  protowire.BytesType,
		fieldContext:    protowire.BytesType,
		fieldWrappedKey: protowire.BytesType,
		fieldCommitment: protowire.BytesType,
		fieldNonce:      protowire.BytesType,
		fieldCiphertext: protowire.BytesType,
	}
	entrySchema = map[protowire.Number]protowire.Type{
		entryKey:   protowire.BytesType,
		entryValue: protowire.BytesType,
	}
	wrappedKeySchema = map[protowire.Number]protowire.Type{
		wrappedNamespace:  protowire.BytesType,
		wrappedKeyName:    protowire.BytesType,
		wrappedAlgorithm:  protowire.BytesType,
		wrappedNonce:      protowire.BytesType,
		wrappedCiphertext: protowire.BytesType,
	}
)

// Envelope is the self-describing, encrypted payload of a token.
type Envelope struct {
	Version    uint64             `json:"version"`
	Suite      Suite              `json:"suite"`
	MessageID  keywrap.Hex        `json:"messageId"`
	Context    Context            `json:"context"`
	WrappedKey keywrap.WrappedKey `json:"wrappedKey"`
	Commitment keywrap.Hex        `json:"commitment"`
	Nonce      keywrap.Hex        `json:"nonce"`
	Ciphertext keywrap.Hex        `json:"ciphertext"`
}

// header returns the encoding of every field preceding the payload
// nonce. It is the associated data of the payload.
func (e *Envelope) header() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Version)
	b = protowire.AppendTag(b, fieldSuite, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Suite))
	b = protowire.AppendTag(b, fieldMessageID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.MessageID)
	b = e.Context.appendTo(b)
	b = protowire.AppendTag(b, fieldWrappedKey, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalWrappedKey(e.WrappedKey))
	b = protowire.AppendTag(b, fieldCommitment, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Commitment)
	return b
}

// Marshal returns the canonical encoding of e.
func (e *Envelope) Marshal() []byte {
	b := e.header()
	b = protowire.AppendTag(b, fieldNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Nonce)
	b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Ciphertext)
	return b
}

func marshalWrappedKey(w keywrap.WrappedKey) []byte {
	var b []byte
	b = protowire.AppendTag(b, wrappedNamespace, protowire.BytesType)
	b = protowire.AppendString(b, w.Namespace)
	b = protowire.AppendTag(b, wrappedKeyName, protowire.BytesType)
	b = protowire.AppendString(b, w.KeyName)
	b = protowire.AppendTag(b, wrappedAlgorithm, protowire.BytesType)
	b = protowire.AppendString(b, w.Algorithm)
	b = protowire.AppendTag(b, wrappedNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, w.Nonce)
	b = protowire.AppendTag(b, wrappedCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, w.Ciphertext)
	return b
}

// UnmarshalEnvelope parses an envelope. Unknown, missing or repeated
// fields, fields of the wrong size, unsupported versions or suites, and
// non-canonical encodings are all rejected with an error of kind
// errors.Invalid. The envelope is not authenticated.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	fields, err := parseFields(b, envelopeSchema, fieldContext)
	if err != nil {
		return nil, formatError("envelope:", err)
	}
	e := new(Envelope)
	var nctx int
	for _, f := range fields {
		switch f.num {
		case fieldVersion:
			e.Version = f.varint
		case fieldSuite:
			if f.varint > math.MaxUint16 {
				return nil, formatError(fmt.Sprintf("envelope: suite %d out of range", f.varint))
			}
			e.Suite = Suite(f.varint)
		case fieldMessageID:
			e.MessageID = f.bytes
		case fieldContext:
			key, value, err := unmarshalEntry(f.bytes)
			if err != nil {
				return nil, formatError("envelope: context:", err)
			}
			if !e.Context.set(key, value) {
				return nil, formatError(fmt.Sprintf("envelope: unexpected context key %q", key))
			}
			nctx++
		case fieldWrappedKey:
			if e.WrappedKey, err = unmarshalWrappedKey(f.bytes); err != nil {
				return nil, formatError("envelope: wrapped key:", err)
			}
		case fieldCommitment:
			e.Commitment = f.bytes
		case fieldNonce:
			e.Nonce = f.bytes
		case fieldCiphertext:
			e.Ciphertext = f.bytes
		}
	}
	if nctx != len(Context{}.entries()) {
		return nil, formatError(fmt.Sprintf("envelope: context has %d entries, want %d", nctx, len(Context{}.entries())))
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	// Duplicate context keys, entry order and varint encodings are
	// all caught here.
	if !bytes.Equal(e.Marshal(), b) {
		return nil, formatError("envelope: non-canonical encoding")
	}
	return e, nil
}

// validate checks the version, suite and field sizes of e.
func (e *Envelope) validate() error {
	check := func(name string, b []byte, want int) error {
		if len(b) != want {
			return formatError(fmt.Sprintf("envelope: %s is %d bytes, want %d", name, len(b), want))
		}
		return nil
	}
	switch {
	case e.Version != Version:
		return formatError(fmt.Sprintf("envelope: unsupported version %d", e.Version))
	case e.Suite != SuiteCommitKey:
		return formatError("envelope: unsupported suite", e.Suite.String())
	case len(e.Ciphertext) < TagSize:
		return formatError(fmt.Sprintf("envelope: ciphertext is %d bytes, shorter than its tag", len(e.Ciphertext)))
	}
	for _, c := range []struct {
		name string
		b    []byte
		want int
	}{
		{"message ID", e.MessageID, MessageIDSize},
		{"commitment", e.Commitment, CommitmentSize},
		{"nonce", e.Nonce, NonceSize},
		{"wrapped key nonce", e.WrappedKey.Nonce, keywrap.NonceSize},
		{"wrapped key ciphertext", e.WrappedKey.Ciphertext, keywrap.KeySize + keywrap.TagSize},
	} {
		if err := check(c.name, c.b, c.want); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalEntry(b []byte) (key, value string, err error) {
	fields, err := parseFields(b, entrySchema, 0)
	if err != nil {
		return "", "", err
	}
	for _, f := range fields {
		switch f.num {
		case entryKey:
			key = string(f.bytes)
		case entryValue:
			value = string(f.bytes)
		}
	}
	return key, value, nil
}

func unmarshalWrappedKey(b []byte) (keywrap.WrappedKey, error) {
	var w keywrap.WrappedKey
	fields, err := parseFields(b, wrappedKeySchema, 0)
	if err != nil {
		return w, err
	}
	for _, f := range fields {
		switch f.num {
		case wrappedNamespace:
			w.Namespace = string(f.bytes)
		case wrappedKeyName:
			w.KeyName = string(f.bytes)
		case wrappedAlgorithm:
			w.Algorithm = string(f.bytes)
		case wrappedNonce:
			w.Nonce = f.bytes
		case wrappedCiphertext:
			w.Ciphertext = f.bytes
		}
	}
	return w, nil
}

type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

// parseFields splits b into fields according to schema. Every field in
// the schema must be present; only the field numbered repeated may
// appear more than once. Returned byte slices are copies.
func parseFields(b []byte, schema map[protowire.Number]protowire.Type, repeated protowire.Number) ([]field, error) {
	var (
		fields []field
		seen   = make(map[protowire.Number]bool, len(schema))
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		want, ok := schema[num]
		switch {
		case !ok:
			return nil, fmt.Errorf("unknown field %d", num)
		case typ != want:
			return nil, fmt.Errorf("field %d has wire type %d, want %d", num, typ, want)
		case seen[num] && num != repeated:
			return nil, fmt.Errorf("duplicate field %d", num)
		}
		seen[num] = true
		f := field{num: num}
		if typ == protowire.VarintType {
			f.varint, n = protowire.ConsumeVarint(b)
		} else {
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			f.bytes = append([]byte{}, v...)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	for num := range schema {
		if !seen[num] {
			return nil, fmt.Errorf("missing field %d", num)
		}
	}
	return fields, nil
}
