// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package keysource retrieves master key material named by a URL. The
// URL is interpreted by the Resolver registered for its scheme:
//
//	6680e5f1...9b1d           a bare 64 digit hex key
//	hex:6680e5f1...9b1d       the same, explicitly
//	env:NAME                  hex key in environment variable NAME
//	file:///path/to/key       hex (or raw) key in a local file
//	/path/to/key              the same
//	s3://bucket/key           hex (or raw) key in any location readable
//	                          through github.com/grailbio/base/file
//	kms://region/blob         base64 ciphertext blob decrypted by AWS KMS
//
// Schemes registered with github.com/grailbio/base/file that have no
// Resolver of their own are read as files.
package keysource

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/imageangel/crypto/keywrap"
)

// Resolver retrieves key material for a parsed key source URL. The
// material may be raw (exactly keywrap.KeySize bytes) or hex encoded.
type Resolver interface {
	Resolve(ctx context.Context, u *url.URL) ([]byte, error)
}

type funcResolver func(context.Context, *url.URL) ([]byte, error)

func (f funcResolver) Resolve(ctx context.Context, u *url.URL) ([]byte, error) { return f(ctx, u) }

// ResolverFunc returns a Resolver that calls f.
func ResolverFunc(f func(context.Context, *url.URL) ([]byte, error)) Resolver {
	return funcResolver(f)
}

var (
	mu        sync.Mutex
	resolvers = map[string]Resolver{}
)

func init() {
	RegisterFunc("hex", resolveHex)
	RegisterFunc("env", resolveEnv)
	RegisterFunc("file", resolveFile)
	RegisterFunc("kms", resolveKMS)
}

// Register associates a Resolver with a scheme, replacing any
// previous registration.
func Register(scheme string, r Resolver) {
	mu.Lock()
	resolvers[scheme] = r
	mu.Unlock()
}

// RegisterFunc associates a Resolver, given by a func, with a scheme.
func RegisterFunc(scheme string, f func(context.Context, *url.URL) ([]byte, error)) {
	Register(scheme, ResolverFunc(f))
}

func lookup(scheme string) Resolver {
	mu.Lock()
	defer mu.Unlock()
	return resolvers[scheme]
}

// Get returns the keywrap.KeySize bytes of key material named by
// rawurl. Unknown schemes fail with errors.NotSupported; material of
// the wrong size or encoding fails with errors.Invalid.
func Get(ctx context.Context, rawurl string) ([]byte, error) {
	rawurl = strings.TrimSpace(rawurl)
	if isHexKey(rawurl) {
		return decodeKey([]byte(rawurl))
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.E(errors.Invalid, "keysource: malformed URL", err)
	}
	var r Resolver
	switch {
	case u.Scheme == "":
		r = lookup("file")
	case lookup(u.Scheme) != nil:
		r = lookup(u.Scheme)
	case file.FindImplementation(u.Scheme) != nil:
		r = ResolverFunc(resolveFile)
	default:
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("keysource: unknown scheme %q", u.Scheme))
	}
	b, err := r.Resolve(ctx, u)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("keysource: %s", redact(u)), err)
	}
	defer keywrap.Zero(b)
	key, err := decodeKey(b)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("keysource: %s", redact(u)), err)
	}
	return key, nil
}

// decodeKey returns a copy of b if it is raw key material, or its
// decoding if it is hex.
func decodeKey(b []byte) ([]byte, error) {
	if len(b) == keywrap.KeySize {
		return append([]byte{}, b...), nil
	}
	b = []byte(strings.TrimSpace(string(b)))
	key := make([]byte, hex.DecodedLen(len(b)))
	if _, err := hex.Decode(key, b); err != nil {
		return nil, errors.E(errors.Invalid, "key is neither raw nor hex encoded")
	}
	if len(key) != keywrap.KeySize {
		keywrap.Zero(key)
		return nil, errors.E(errors.Invalid, fmt.Sprintf("key is %d bytes, want %d", len(key), keywrap.KeySize))
	}
	return key, nil
}

func isHexKey(s string) bool {
	if len(s) != 2*keywrap.KeySize {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// redact returns a description of u that omits literal key material.
func redact(u *url.URL) string {
	switch u.Scheme {
	case "hex":
		return "hex:<redacted>"
	case "kms":
		return "kms://" + u.Host
	}
	return u.String()
}

func resolveHex(_ context.Context, u *url.URL) ([]byte, error) {
	return []byte(u.Opaque), nil
}

func resolveEnv(_ context.Context, u *url.URL) ([]byte, error) {
	name := u.Opaque
	if name == "" {
		name = u.Host
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("environment variable %s is not set", name))
	}
	return []byte(v), nil
}

func resolveFile(ctx context.Context, u *url.URL) ([]byte, error) {
	path := u.String()
	if u.Scheme == "" || u.Scheme == "file" {
		path = u.Path
	}
	return file.ReadFile(ctx, path)
}
