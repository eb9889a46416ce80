// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package client bundles token issuance, token verification and
// watermark detection behind a single master key.
//
//	c, err := client.New("my-key", secret, client.Opts{})
//	u, err := c.MakeURL("s3://images/cat.jpeg", "cat.jpeg", 1234, "customer-42")
//	pieces, err := c.DecryptURL(u)
//	if !pieces.AuxInfoMatches {
//		// refuse to serve
//	}
package client

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/grailbio/imageangel/crypto/keywrap"
	"github.com/grailbio/imageangel/detect"
	"github.com/grailbio/imageangel/urltoken"
)

// Opts configures a Client. The zero value is usable.
type Opts struct {
	// APIRoot defaults to urltoken.DefaultAPIRoot.
	APIRoot string
	// Method defaults to urltoken.MethodV0.
	Method urltoken.Method
	// APIKey authenticates detection requests. If empty, the hex
	// encoded master key is used.
	APIKey string
	// HTTPClient is used for detection requests; defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	// Namespace defaults to keywrap.DefaultNamespace.
	Namespace string
}

// Client issues and verifies token URLs and queries the detection
// service. It is safe for concurrent use.
type Client struct {
	codec  *urltoken.Codec
	detect *detect.Client
}

// New returns a client for the master key with the given name and
// secret.
func New(keyName string, secret []byte, opts Opts) (*Client, error) {
	key, err := keywrap.NewMasterKey(keyName, secret)
	if err != nil {
		return nil, err
	}
	p, err := keywrap.New(opts.Namespace, key)
	if err != nil {
		return nil, err
	}
	codec := urltoken.New(p, urltoken.Opts{APIRoot: opts.APIRoot, Method: opts.Method})
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = hex.EncodeToString(secret)
	}
	return &Client{
		codec:  codec,
		detect: detect.New(codec.APIRoot(), apiKey, codec.Method(), opts.HTTPClient),
	}, nil
}

// MakeURL returns a token URL for src. See urltoken.Codec.Encode.
func (c *Client) MakeURL(src, filename string, watermark uint64, auxinfo string) (string, error) {
	return c.codec.Encode(src, filename, watermark, auxinfo)
}

// DecryptURL verifies and decrypts a token URL. See
// urltoken.Codec.Decode.
func (c *Client) DecryptURL(rawurl string) (*urltoken.Pieces, error) {
	return c.codec.Decode(rawurl)
}

// Detect asks the detection service for the watermark in a JPEG image.
func (c *Client) Detect(ctx context.Context, image io.Reader) (*detect.Results, error) {
	return c.detect.Detect(ctx, image)
}

// DetectFile asks the detection service for the watermark in the image
// at path.
func (c *Client) DetectFile(ctx context.Context, path string) (*detect.Results, error) {
	return c.detect.DetectFile(ctx, path)
}
