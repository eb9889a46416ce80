// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package urltoken

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Method names the watermarking method used by the detection service.
// Unrecognized methods are carried through verbatim.
type Method string

// MethodV0 is the only watermarking method currently defined.
const MethodV0 Method = "v0"

// Known reports whether m is a method this package recognizes.
func (m Method) Known() bool {
	return m == MethodV0
}

// Keys of the encryption context entries.
const (
	ContextMethod    = "a"
	ContextAuxInfo   = "u"
	ContextWatermark = "w"
)

// Context is the encryption context bound into every envelope.
type Context struct {
	// AuxInfoHash is the lowercase hex MD5 of the auxiliary info.
	AuxInfoHash string `json:"u"`
	// Watermark is the lowercase hex watermark identifier.
	Watermark string `json:"w"`
	Method    Method `json:"a"`
}

// NewContext returns the context for the given watermark, auxiliary
// info and method.
func NewContext(watermark uint64, auxinfo string, method Method) Context {
	return Context{
		AuxInfoHash: HashAuxInfo(auxinfo),
		Watermark:   strconv.FormatUint(watermark, 16),
		Method:      method,
	}
}

// HashAuxInfo returns the lowercase hex MD5 digest of auxinfo. MD5 is
// used only to compare a cleartext value against its authenticated
// copy; it is never relied on for collision resistance.
func HashAuxInfo(auxinfo string) string {
	sum := md5.Sum([]byte(auxinfo))
	return hex.EncodeToString(sum[:])
}

// entries returns the context as key, value pairs sorted by key.
func (c Context) entries() [3][2]string {
	return [3][2]string{
		{ContextMethod, string(c.Method)},
		{ContextAuxInfo, c.AuxInfoHash},
		{ContextWatermark, c.Watermark},
	}
}

// set assigns the entry with the given key, returning false if the key
// is not a context key.
func (c *Context) set(key, value string) bool {
	switch key {
	case ContextMethod:
		c.Method = Method(value)
	case ContextAuxInfo:
		c.AuxInfoHash = value
	case ContextWatermark:
		c.Watermark = value
	default:
		return false
	}
	return true
}

// appendTo appends the canonical encoding of c, as it appears in an
// envelope, to b.
func (c Context) appendTo(b []byte) []byte {
	for _, kv := range c.entries() {
		b = protowire.AppendTag(b, fieldContext, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEntry(nil, kv[0], kv[1]))
	}
	return b
}

// Marshal returns the canonical encoding of c. It is the associated
// data used when wrapping an envelope's data key.
func (c Context) Marshal() []byte {
	return c.appendTo(nil)
}

func appendEntry(b []byte, key, value string) []byte {
	b = protowire.AppendTag(b, entryKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, entryValue, protowire.BytesType)
	b = protowire.AppendString(b, value)
	return b
}
