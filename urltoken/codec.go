// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package urltoken

import (
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/imageangel/crypto/keywrap"
)

// DefaultAPIRoot is the API root used when Opts.APIRoot is empty.
const DefaultAPIRoot = "https://api.imageangel.co.uk/"

// Opts configures a Codec.
type Opts struct {
	// APIRoot is the URL prefix of issued tokens. It is normalized to
	// end in a slash.
	APIRoot string
	// Method is recorded in every token. Defaults to MethodV0.
	Method Method
}

// Codec encodes and decodes token URLs. It holds no mutable state and
// is safe for concurrent use.
type Codec struct {
	provider *keywrap.Provider
	apiRoot  string
	method   Method
}

// Pieces is the result of decoding a token URL.
type Pieces struct {
	// Src is the decrypted source location.
	Src string `json:"src"`
	// Key is the name of the master key the token was issued under.
	Key string `json:"key"`
	// Host is the scheme and host of the token URL.
	Host string `json:"host"`
	// Path is the escaped path of the token URL.
	Path      string `json:"path"`
	Watermark uint64 `json:"watermark"`
	// AuxInfo is the untrusted u parameter of the token URL.
	AuxInfo string `json:"auxinfo"`
	// AuxInfoMatches reports whether AuxInfo is the auxiliary info the
	// token was issued with.
	AuxInfoMatches  bool   `json:"auxinfoMatches"`
	WatermarkMethod Method `json:"watermarkMethod"`
}

// New returns a codec that wraps data keys with the given provider.
func New(p *keywrap.Provider, opts Opts) *Codec {
	c := &Codec{provider: p, apiRoot: opts.APIRoot, method: opts.Method}
	if c.apiRoot == "" {
		c.apiRoot = DefaultAPIRoot
	}
	if !strings.HasSuffix(c.apiRoot, "/") {
		c.apiRoot += "/"
	}
	if c.method == "" {
		c.method = MethodV0
	}
	return c
}

// APIRoot returns the normalized API root of c.
func (c *Codec) APIRoot() string { return c.apiRoot }

// Method returns the watermarking method recorded by c.
func (c *Codec) Method() Method { return c.method }

// Encode returns a token URL for the file name, from which Decode
// recovers sourceURL, watermark and auxinfo. Every call draws a fresh
// data key, so encoding the same values twice yields different URLs.
//
// The file name is taken literally: each slash separated segment is
// percent-escaped, so a name that is already escaped (a%20b.jpeg) is
// escaped again (a%2520b.jpeg).
func (c *Codec) Encode(sourceURL, filename string, watermark uint64, auxinfo string) (string, error) {
	env, err := c.Seal([]byte(sourceURL), NewContext(watermark, auxinfo, c.method))
	if err != nil {
		return "", errors.E("urltoken.Encode", err)
	}
	var b strings.Builder
	b.WriteString(c.apiRoot)
	b.WriteString("wm/")
	b.WriteString(escapePath(filename))
	// Query parameters are written by hand: url.Values.Encode sorts
	// keys, and u must precede s.
	b.WriteString("?u=")
	b.WriteString(url.QueryEscape(auxinfo))
	b.WriteString("&s=")
	b.WriteString(url.QueryEscape(base64.StdEncoding.EncodeToString(env.Marshal())))
	return b.String(), nil
}

// Decode verifies and decrypts a token URL. Malformed URLs and
// envelopes fail with a format error; envelopes that were not issued
// under the codec's master key, or that were modified, fail with an
// integrity error. Modification of the u parameter alone is reported
// through Pieces.AuxInfoMatches.
func (c *Codec) Decode(rawurl string) (*Pieces, error) {
	u, q, err := parseURL(rawurl)
	if err != nil {
		return nil, errors.E("urltoken.Decode", err)
	}
	if !q.Has("u") {
		return nil, errors.E("urltoken.Decode", formatError("missing u parameter"))
	}
	host, err := origin(u)
	if err != nil {
		return nil, errors.E("urltoken.Decode", err)
	}
	env, err := envelopeParam(q)
	if err != nil {
		return nil, errors.E("urltoken.Decode", err)
	}
	src, err := c.Open(env)
	if err != nil {
		return nil, errors.E("urltoken.Decode", err)
	}
	watermark, err := strconv.ParseUint(env.Context.Watermark, 16, 64)
	if err != nil {
		return nil, errors.E("urltoken.Decode", formatError("malformed watermark", err))
	}
	auxinfo := q.Get("u")
	return &Pieces{
		Src:             string(src),
		Key:             env.WrappedKey.KeyName,
		Host:            host,
		Path:            u.EscapedPath(),
		Watermark:       watermark,
		AuxInfo:         auxinfo,
		AuxInfoMatches:  HashAuxInfo(auxinfo) == env.Context.AuxInfoHash,
		WatermarkMethod: env.Context.Method,
	}, nil
}

// Inspect returns the envelope of a token URL without authenticating
// or decrypting it.
func Inspect(rawurl string) (*Envelope, error) {
	_, q, err := parseURL(rawurl)
	if err != nil {
		return nil, errors.E("urltoken.Inspect", err)
	}
	env, err := envelopeParam(q)
	if err != nil {
		return nil, errors.E("urltoken.Inspect", err)
	}
	return env, nil
}

// Seal encrypts plaintext into a new envelope bound to ctx.
func (c *Codec) Seal(plaintext []byte, ctx Context) (*Envelope, error) {
	dataKey, err := keywrap.GenerateDataKey()
	if err != nil {
		return nil, err
	}
	defer keywrap.Zero(dataKey)
	env := &Envelope{
		Version:   Version,
		Suite:     SuiteCommitKey,
		MessageID: make([]byte, MessageIDSize),
		Context:   ctx,
		Nonce:     make([]byte, NonceSize),
	}
	if err := keywrap.ReadRandom(env.MessageID); err != nil {
		return nil, err
	}
	if err := keywrap.ReadRandom(env.Nonce); err != nil {
		return nil, err
	}
	if env.WrappedKey, err = c.provider.Wrap(dataKey, ctx.Marshal()); err != nil {
		return nil, err
	}
	encKey, commitment, err := env.Suite.deriveKeys(dataKey, env.MessageID)
	if err != nil {
		return nil, err
	}
	defer keywrap.Zero(encKey)
	env.Commitment = commitment
	aead, err := newAEAD(encKey)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, plaintext, env.header())
	return env, nil
}

// Open authenticates env and returns its plaintext. No plaintext is
// returned unless every check passes.
func (c *Codec) Open(env *Envelope) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	dataKey, err := c.provider.Unwrap(env.WrappedKey, env.Context.Marshal())
	if err != nil {
		return nil, err
	}
	defer keywrap.Zero(dataKey)
	encKey, commitment, err := env.Suite.deriveKeys(dataKey, env.MessageID)
	if err != nil {
		return nil, err
	}
	defer keywrap.Zero(encKey)
	if subtle.ConstantTimeCompare(commitment, env.Commitment) != 1 {
		return nil, integrityError("key commitment mismatch")
	}
	aead, err := newAEAD(encKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.header())
	if err != nil {
		return nil, integrityError("payload", err)
	}
	return plaintext, nil
}

// IsFormatError tells whether err was caused by a malformed token.
func IsFormatError(err error) bool {
	return errors.Is(errors.Invalid, err)
}

// IsIntegrityError tells whether err was caused by a token that failed
// cryptographic verification.
func IsIntegrityError(err error) bool {
	return errors.Is(errors.Integrity, err)
}

func parseURL(rawurl string) (*url.URL, url.Values, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, nil, formatError("malformed URL", err)
	}
	return u, u.Query(), nil
}

// origin returns the scheme and host of u, omitting the port when it
// is the scheme's default.
func origin(u *url.URL) (string, error) {
	if u.Scheme == "" || u.Host == "" {
		return "", formatError("URL has no scheme or host")
	}
	host := u.Host
	switch port := u.Port(); {
	case u.Scheme == "https" && port == "443", u.Scheme == "http" && port == "80":
		host = strings.TrimSuffix(host, ":"+port)
	}
	return u.Scheme + "://" + host, nil
}

// envelopeParam decodes the envelope carried in the s parameter.
func envelopeParam(q url.Values) (*Envelope, error) {
	s := q.Get("s")
	if s == "" {
		return nil, formatError("missing s parameter")
	}
	// An unescaped + in the base64 text is decoded as a space by query
	// parsing.
	s = strings.ReplaceAll(s, " ", "+")
	// Strict decoding rejects nonzero padding bits but still skips CR
	// and LF, so the decoding must also re-encode to exactly s.
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, formatError("s parameter is not base64", err)
	}
	if base64.StdEncoding.EncodeToString(b) != s {
		return nil, formatError("s parameter is not canonical base64")
	}
	return UnmarshalEnvelope(b)
}

// escapePath escapes each slash separated segment of p.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func formatError(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Invalid, errors.Fatal}, args...)...)
}

func integrityError(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Integrity, errors.Fatal}, args...)...)
}
