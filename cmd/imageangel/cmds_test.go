// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/imageangel/urltoken"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"v.io/x/lib/cmdline"
)

const testKeyHex = "6680e5f1ec113adfa927c41acb8079fad1e05b6b3ce4d9c3ce0ed0560edc9b1d"

func setFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	assert.NoError(t, os.WriteFile(path, []byte(testKeyHex), 0600))
	keyNameFlag = "test-key"
	keyFlag = "file://" + path
	apiRootFlag = "https://api.example/"
	methodFlag = "v0"
	strictFlag = false
	parallelism = 4
}

func run(fn func(*cmdline.Env, []string) error, args ...string) (string, error) {
	var out bytes.Buffer
	err := fn(&cmdline.Env{Stdout: &out, Stderr: &out}, args)
	return out.String(), err
}

func TestURLDecode(t *testing.T) {
	setFlags(t)
	var urls []string
	for _, wm := range []string{"1234", "0x4d2"} {
		out, err := run(runURL, "s3://images/cat.jpeg", "cat.jpeg", wm, "customer-42")
		assert.NoError(t, err)
		u := strings.TrimSpace(out)
		expect.True(t, strings.HasPrefix(u, "https://api.example/wm/cat.jpeg?u=customer-42&s="), u)
		urls = append(urls, u)
	}

	out, err := run(runDecode, urls...)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.EQ(t, len(lines), 2)
	for _, line := range lines {
		var p urltoken.Pieces
		assert.NoError(t, json.Unmarshal([]byte(line), &p))
		expect.EQ(t, p.Src, "s3://images/cat.jpeg")
		expect.EQ(t, p.Watermark, uint64(1234))
		expect.True(t, p.AuxInfoMatches)
	}

	tampered := strings.Replace(urls[0], "customer-42", "customer-43", 1)
	_, err = run(runDecode, urls[1], tampered)
	assert.NoError(t, err)
	strictFlag = true
	_, err = run(runDecode, urls[1], tampered)
	expect.True(t, errors.Is(errors.Integrity, err))
	expect.HasSubstr(t, err, "auxinfo was modified")

	keyNameFlag = "other-key"
	_, err = run(runDecode, urls[0])
	expect.True(t, urltoken.IsIntegrityError(err))
}

func TestInspect(t *testing.T) {
	setFlags(t)
	out, err := run(runURL, "s3://images/cat.jpeg", "cat.jpeg", "255", "aux")
	assert.NoError(t, err)
	keyFlag = "env:IMAGEANGEL_UNSET_KEY"
	out, err = run(runInspect, strings.TrimSpace(out))
	assert.NoError(t, err)
	expect.HasSubstr(t, out, `"suite": "AES256_GCM_HKDF_SHA512_COMMIT_KEY"`)
	expect.HasSubstr(t, out, `"w": "ff"`)
	expect.HasSubstr(t, out, `"keyName": "test-key"`)
	expect.False(t, strings.Contains(out, testKeyHex))
	var m map[string]interface{}
	assert.NoError(t, json.Unmarshal([]byte(out), &m))
	expect.EQ(t, m["version"], float64(urltoken.Version))
}

func TestGenkey(t *testing.T) {
	out, err := run(runGenkey)
	assert.NoError(t, err)
	b, err := hex.DecodeString(strings.TrimSpace(out))
	assert.NoError(t, err)
	expect.EQ(t, len(b), 32)
}
