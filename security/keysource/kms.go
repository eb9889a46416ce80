// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package keysource

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/grailbio/base/errors"
)

// DefaultRegion is used for kms URLs that do not name a region.
var DefaultRegion = "us-west-2"

// CredentialsChainVerboseErrors is used to set
// aws.Config.CredentialsChainVerboseErrors when creating a KMS session.
var CredentialsChainVerboseErrors = false

// NewKMS returns the KMS client used for a region. It may be replaced
// in tests.
var NewKMS = func(region string) (kmsiface.KMSAPI, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:                        aws.String(region),
		CredentialsChainVerboseErrors: aws.Bool(CredentialsChainVerboseErrors),
	})
	if err != nil {
		return nil, err
	}
	return kms.New(sess), nil
}

// resolveKMS decrypts the base64 ciphertext blob in the path of
// kms://region/blob.
func resolveKMS(ctx context.Context, u *url.URL) ([]byte, error) {
	region := u.Host
	if region == "" {
		region = DefaultRegion
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, errors.E(errors.Invalid, "kms ciphertext blob is not base64", err)
	}
	client, err := NewKMS(region)
	if err != nil {
		return nil, errors.E(errors.Unavailable, "kms session", err)
	}
	out, err := client.DecryptWithContext(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, errors.E(errors.Remote, "kms decrypt", err)
	}
	return out.Plaintext, nil
}
