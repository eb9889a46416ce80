// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keywrap_test

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/imageangel/crypto/keywrap"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testKeyHex = "6680e5f1ec113adfa927c41acb8079fad1e05b6b3ce4d9c3ce0ed0560edc9b1d"

type randError struct{}

func (r *randError) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("rand failures")
}

func newProvider(t *testing.T, name, hexKey string) *keywrap.Provider {
	t.Helper()
	key, err := keywrap.ParseMasterKey(name, hexKey)
	assert.NoError(t, err)
	p, err := keywrap.New("", key)
	assert.NoError(t, err)
	return p
}

func TestMasterKey(t *testing.T) {
	_, err := keywrap.ParseMasterKey("test-key", testKeyHex)
	assert.NoError(t, err)

	for _, tc := range []struct {
		name, hex, err string
	}{
		{"test-key", testKeyHex[:62], "is 31 bytes, want 32"},
		{"test-key", testKeyHex + "00", "is 33 bytes, want 32"},
		{"test-key", "zz" + testKeyHex[2:], "not hex encoded"},
		{"", testKeyHex, "name is empty"},
	} {
		_, err := keywrap.ParseMasterKey(tc.name, tc.hex)
		expect.HasSubstr(t, err, tc.err)
		expect.True(t, errors.Is(errors.Invalid, err))
	}

	key, err := keywrap.ParseMasterKey("test-key", " "+testKeyHex+"\n")
	assert.NoError(t, err)
	for _, s := range []string{fmt.Sprint(key), fmt.Sprintf("%v", key), fmt.Sprintf("%#v", key)} {
		expect.EQ(t, s, "MasterKey(test-key)")
	}

	_, err = keywrap.New("", keywrap.MasterKey{})
	expect.HasSubstr(t, err, "no name")
}

func TestRoundTrip(t *testing.T) {
	p := newProvider(t, "test-key", testKeyHex)
	expect.EQ(t, p.Namespace(), keywrap.DefaultNamespace)
	expect.EQ(t, p.KeyName(), "test-key")

	dataKey, err := keywrap.GenerateDataKey()
	assert.NoError(t, err)
	aad := []byte("context")
	w, err := p.Wrap(dataKey, aad)
	assert.NoError(t, err)
	expect.EQ(t, w.Namespace, "image-angel")
	expect.EQ(t, w.KeyName, "test-key")
	expect.EQ(t, w.Algorithm, keywrap.Algorithm)
	expect.EQ(t, len(w.Nonce), keywrap.NonceSize)
	expect.EQ(t, len(w.Ciphertext), keywrap.KeySize+keywrap.TagSize)

	got, err := p.Unwrap(w, aad)
	assert.NoError(t, err)
	expect.True(t, bytes.Equal(got, dataKey))

	// Unwrapping must work with an independently constructed provider.
	got, err = newProvider(t, "test-key", testKeyHex).Unwrap(w, aad)
	assert.NoError(t, err)
	expect.True(t, bytes.Equal(got, dataKey))

	_, err = p.Wrap(dataKey[:16], aad)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestNonceUniqueness(t *testing.T) {
	p := newProvider(t, "test-key", testKeyHex)
	dataKey, err := keywrap.GenerateDataKey()
	assert.NoError(t, err)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		w, err := p.Wrap(dataKey, nil)
		assert.NoError(t, err)
		if seen[string(w.Nonce)] {
			t.Fatalf("nonce %x repeated", w.Nonce)
		}
		seen[string(w.Nonce)] = true
	}
}

func TestUnwrapFailures(t *testing.T) {
	p := newProvider(t, "test-key", testKeyHex)
	dataKey, err := keywrap.GenerateDataKey()
	assert.NoError(t, err)
	aad := []byte("context")
	w, err := p.Wrap(dataKey, aad)
	assert.NoError(t, err)

	otherHex := strings.Repeat("ab", keywrap.KeySize)
	for _, tc := range []struct {
		name   string
		p      *keywrap.Provider
		modify func(w *keywrap.WrappedKey)
		aad    []byte
		err    string
	}{
		{"wrong key", newProvider(t, "test-key", otherHex), nil, aad, "message authentication failed"},
		{"wrong name", newProvider(t, "other-key", testKeyHex), nil, aad, "provider holds image-angel/other-key"},
		{"relabelled", newProvider(t, "other-key", testKeyHex),
			func(w *keywrap.WrappedKey) { w.KeyName = "other-key" }, aad, "message authentication failed"},
		{"wrong aad", p, nil, []byte("contexT"), "message authentication failed"},
		{"algorithm", p, func(w *keywrap.WrappedKey) { w.Algorithm = "AES128" }, aad, "unsupported wrapping algorithm"},
		{"short nonce", p, func(w *keywrap.WrappedKey) { w.Nonce = w.Nonce[1:] }, aad, "nonce is 11 bytes"},
		{"truncated", p, func(w *keywrap.WrappedKey) { w.Ciphertext = w.Ciphertext[:40] }, aad, "wrapped key is 40 bytes"},
		{"flipped nonce", p, func(w *keywrap.WrappedKey) { w.Nonce[0] ^= 1 }, aad, "message authentication failed"},
		{"flipped tag", p, func(w *keywrap.WrappedKey) { w.Ciphertext[47] ^= 0x80 }, aad, "message authentication failed"},
	} {
		c := w
		c.Nonce = append(keywrap.Hex(nil), w.Nonce...)
		c.Ciphertext = append(keywrap.Hex(nil), w.Ciphertext...)
		if tc.modify != nil {
			tc.modify(&c)
		}
		got, err := tc.p.Unwrap(c, tc.aad)
		if got != nil {
			t.Errorf("%s: unwrap returned key material", tc.name)
		}
		expect.HasSubstr(t, err, tc.err)
		expect.True(t, errors.Is(errors.Integrity, err), tc.name)
	}
}

func TestConcurrentWrap(t *testing.T) {
	p := newProvider(t, "test-key", testKeyHex)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				dataKey, err := keywrap.GenerateDataKey()
				if err != nil {
					errs <- err
					return
				}
				w, err := p.Wrap(dataKey, []byte{byte(j)})
				if err != nil {
					errs <- err
					return
				}
				got, err := p.Unwrap(w, []byte{byte(j)})
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, dataKey) {
					errs <- fmt.Errorf("mismatched key")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRandFailure(t *testing.T) {
	p := newProvider(t, "test-key", testKeyHex)
	dataKey := make([]byte, keywrap.KeySize)
	keywrap.SetRandSource(&randError{})
	defer keywrap.SetRandSource(rand.Reader)

	_, err := keywrap.GenerateDataKey()
	expect.HasSubstr(t, err, "failed to read 32 bytes of random data")
	expect.True(t, errors.Is(errors.Unavailable, err))
	_, err = p.Wrap(dataKey, nil)
	expect.HasSubstr(t, err, "failed to read 12 bytes of random data")

	keywrap.SetRandSource(strings.NewReader("short"))
	_, err = keywrap.GenerateSecret()
	expect.True(t, errors.Is(errors.Unavailable, err))
}

func TestZero(t *testing.T) {
	b := []byte("secret")
	keywrap.Zero(b)
	expect.True(t, bytes.Equal(b, make([]byte, 6)))
}

func TestJSON(t *testing.T) {
	w := keywrap.WrappedKey{
		Namespace:  "ns",
		KeyName:    "k",
		Algorithm:  keywrap.Algorithm,
		Nonce:      keywrap.Hex{0xff, 0xee},
		Ciphertext: keywrap.Hex{},
	}
	out, err := json.Marshal(w)
	assert.NoError(t, err)
	expect.EQ(t, string(out),
		`{"namespace":"ns","keyName":"k","algorithm":"AES256_GCM_IV12_TAG16_NO_PADDING","nonce":"ffee","ciphertext":""}`)

	var got keywrap.WrappedKey
	assert.NoError(t, json.Unmarshal(out, &got))
	expect.EQ(t, got.Nonce, keywrap.Hex{0xff, 0xee})
	expect.EQ(t, len(got.Ciphertext), 0)

	err = json.Unmarshal([]byte(`{"nonce": {} }`), &got)
	expect.HasSubstr(t, err, "not quoted")
}
