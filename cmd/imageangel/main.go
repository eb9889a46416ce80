// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command imageangel issues, verifies and inspects watermark token
// URLs, and queries the watermark detection service.
//
//	imageangel url -key=env:IMAGEANGEL_KEY s3://images/cat.jpeg cat.jpeg 1234 customer-42
//	imageangel decode -strict <url>...
//	imageangel inspect <url>
//	imageangel detect s3://images/suspect.jpeg
//	imageangel genkey
//
// Keys are named by key source URLs; see package
// github.com/grailbio/imageangel/security/keysource.
package main

import (
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"v.io/x/lib/cmdline"
)

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "imageangel",
		Short:    "Issue and verify watermark token URLs",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdURL(),
			newCmdDecode(),
			newCmdInspect(),
			newCmdDetect(),
			newCmdGenkey(),
		},
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(newCmdRoot())
}
