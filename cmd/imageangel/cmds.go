// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/imageangel/client"
	"github.com/grailbio/imageangel/crypto/keywrap"
	"github.com/grailbio/imageangel/detect"
	"github.com/grailbio/imageangel/security/keysource"
	"github.com/grailbio/imageangel/urltoken"
	"golang.org/x/sync/errgroup"
	"v.io/x/lib/cmdline"
)

var (
	keyNameFlag string
	keyFlag     string
	apiRootFlag string
	apiKeyFlag  string
	methodFlag  string
	strictFlag  bool
	parallelism int
)

func addKeyFlags(cmd *cmdline.Command) {
	cmd.Flags.StringVar(&keyNameFlag, "key-name", "default", "Name of the master key.")
	cmd.Flags.StringVar(&keyFlag, "key", "env:IMAGEANGEL_KEY", "Key source URL of the master key (hex:, env:, file:, s3:, kms:).")
	cmd.Flags.StringVar(&apiRootFlag, "api-root", urltoken.DefaultAPIRoot, "API root of token URLs and of the detection service.")
	cmd.Flags.StringVar(&methodFlag, "method", string(urltoken.MethodV0), "Watermarking method.")
}

func newClient(ctx context.Context) (*client.Client, error) {
	secret, err := keysource.Get(ctx, keyFlag)
	if err != nil {
		return nil, err
	}
	defer keywrap.Zero(secret)
	return client.New(keyNameFlag, secret, client.Opts{
		APIRoot: apiRootFlag,
		Method:  urltoken.Method(methodFlag),
		APIKey:  apiKeyFlag,
	})
}

func newCmdURL() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runURL),
		Name:     "url",
		Short:    "Issue a token URL",
		ArgsName: "<source url> <file name> <watermark> <auxinfo>",
		Long: `
Url prints a token URL that serves the image at <source url> under
<file name>. The watermark may be given in decimal or, with a 0x
prefix, in hex.`,
	}
	addKeyFlags(cmd)
	return cmd
}

func runURL(env *cmdline.Env, args []string) error {
	if len(args) != 4 {
		return env.UsageErrorf("expected 4 arguments, got %d", len(args))
	}
	watermark, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil {
		return env.UsageErrorf("bad watermark %q: %v", args[2], err)
	}
	c, err := newClient(context.Background())
	if err != nil {
		return err
	}
	u, err := c.MakeURL(args[0], args[1], watermark, args[3])
	if err != nil {
		return err
	}
	fmt.Fprintln(env.Stdout, u)
	return nil
}

func newCmdDecode() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runDecode),
		Name:     "decode",
		Short:    "Verify and decrypt token URLs",
		ArgsName: "<url>...",
		Long: `
Decode prints, for each token URL, a JSON object with the source
location, watermark and auxinfo it carries. URLs are decoded in
parallel and printed in argument order.`,
	}
	addKeyFlags(cmd)
	cmd.Flags.BoolVar(&strictFlag, "strict", false, "Fail if any URL's auxinfo was modified.")
	cmd.Flags.IntVar(&parallelism, "parallelism", 8, "Maximum number of URLs decoded concurrently.")
	return cmd
}

func runDecode(env *cmdline.Env, args []string) error {
	if len(args) == 0 {
		return env.UsageErrorf("no URLs given")
	}
	c, err := newClient(context.Background())
	if err != nil {
		return err
	}
	pieces := make([]*urltoken.Pieces, len(args))
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, u := range args {
		i, u := i, u
		g.Go(func() error {
			p, err := c.DecryptURL(u)
			if err != nil {
				return errors.E("decode", u, err)
			}
			if !p.AuxInfoMatches {
				log.Printf("decode: %s: auxinfo %q does not match the token", u, p.AuxInfo)
				if strictFlag {
					return errors.E(errors.Integrity, "decode", u, "auxinfo was modified")
				}
			}
			pieces[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	enc := json.NewEncoder(env.Stdout)
	for _, p := range pieces {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func newCmdInspect() *cmdline.Command {
	return &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runInspect),
		Name:     "inspect",
		Short:    "Print the envelope of a token URL without decrypting it",
		ArgsName: "<url>",
	}
}

func runInspect(env *cmdline.Env, args []string) error {
	if len(args) != 1 {
		return env.UsageErrorf("expected 1 argument, got %d", len(args))
	}
	e, err := urltoken.Inspect(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

func newCmdDetect() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   cmdutil.RunnerFunc(runDetect),
		Name:     "detect",
		Short:    "Ask the detection service for the watermark in images",
		ArgsName: "<image path>...",
	}
	addKeyFlags(cmd)
	cmd.Flags.StringVar(&apiKeyFlag, "api-key", "", "Detection service API key; defaults to the hex master key.")
	return cmd
}

func runDetect(env *cmdline.Env, args []string) error {
	if len(args) == 0 {
		return env.UsageErrorf("no images given")
	}
	ctx := context.Background()
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.Stdout)
	for _, path := range args {
		r, err := c.DetectFile(ctx, path)
		if err != nil {
			return err
		}
		if err := enc.Encode(struct {
			Path string `json:"path"`
			*detect.Results
		}{path, r}); err != nil {
			return err
		}
	}
	return nil
}

func newCmdGenkey() *cmdline.Command {
	return &cmdline.Command{
		Runner: cmdutil.RunnerFunc(runGenkey),
		Name:   "genkey",
		Short:  "Print a new random master key in hex",
	}
}

func runGenkey(env *cmdline.Env, args []string) error {
	if len(args) != 0 {
		return env.UsageErrorf("genkey takes no arguments")
	}
	secret, err := keywrap.GenerateSecret()
	if err != nil {
		return err
	}
	defer keywrap.Zero(secret)
	fmt.Fprintln(env.Stdout, hex.EncodeToString(secret))
	return nil
}
