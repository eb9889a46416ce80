// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package detect is a client for the watermark detection service.
// Images are posted to <apiRoot>detect and the service replies with
// the watermark it found, if any.
package detect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/imageangel/urltoken"
	"golang.org/x/net/context/ctxhttp"
)

// Results is the reply of the detection service.
type Results struct {
	// Watermark is the detected watermark, or nil if none was found.
	Watermark *uint64 `json:"watermark,omitempty"`
	Message   string  `json:"message,omitempty"`
	// Status is the HTTP status code of the reply.
	Status int `json:"-"`
}

// Client posts images to the detection service.
type Client struct {
	apiRoot string
	apiKey  string
	method  urltoken.Method
	client  *http.Client
}

// New returns a detection client. A nil http.Client selects
// http.DefaultClient; an empty apiRoot selects
// urltoken.DefaultAPIRoot.
func New(apiRoot, apiKey string, method urltoken.Method, client *http.Client) *Client {
	if apiRoot == "" {
		apiRoot = urltoken.DefaultAPIRoot
	}
	if !strings.HasSuffix(apiRoot, "/") {
		apiRoot += "/"
	}
	if method == "" {
		method = urltoken.MethodV0
	}
	return &Client{apiRoot: apiRoot, apiKey: apiKey, method: method, client: client}
}

func (c *Client) endpoint() string {
	return c.apiRoot + "detect?a=" + url.QueryEscape(string(c.method)) + "&k=" + url.QueryEscape(c.apiKey)
}

// Detect posts a JPEG image to the detection service. Replies with a
// non-2xx status are logged and their decoded body is still returned,
// with Results.Status set. Transport failures are returned as errors of
// kind errors.Net, unless ctx is done, in which case the error is of kind
// errors.Canceled or errors.Timeout. Undecodable replies are
// errors.Remote. Requests are not retried.
func (c *Client) Detect(ctx context.Context, image io.Reader) (*Results, error) {
	req, err := http.NewRequest(http.MethodPost, c.endpoint(), image)
	if err != nil {
		return nil, errors.E(errors.Invalid, "detect: request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "image/jpeg")
	log.Debug.Printf("detect: POST %sdetect?a=%s", c.apiRoot, c.method)
	resp, err := ctxhttp.Do(ctx, c.client, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Error.Printf("detect: error detecting watermark: %v", ctxErr)
			// Classified as errors.Canceled or errors.Timeout.
			return nil, errors.E("detect", ctxErr)
		}
		log.Error.Printf("detect: error detecting watermark: %v", redact(err, c.apiKey))
		return nil, errors.E(errors.Net, "detect", redact(err, c.apiKey))
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode/100 != 2 {
		log.Error.Printf("detect: error detecting watermark: %s", resp.Status)
	}
	r := &Results{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(r); err != nil {
		return nil, errors.E(errors.Remote, "detect: "+resp.Status+": undecodable reply", err)
	}
	return r, nil
}

// DetectFile posts the image at path, which may be any path supported
// by github.com/grailbio/base/file.
func (c *Client) DetectFile(ctx context.Context, path string) (*Results, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E("detect", path, err)
	}
	defer f.Close(ctx) // nolint: errcheck
	return c.Detect(ctx, f.Reader(ctx))
}

// redact strips the API key from transport errors, which carry the
// request URL.
func redact(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := err.Error()
	for _, s := range []string{apiKey, url.QueryEscape(apiKey)} {
		msg = strings.ReplaceAll(msg, s, "<redacted>")
	}
	return errors.New(msg)
}
