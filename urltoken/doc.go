// Copyright 2026 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*
Package urltoken builds and verifies tamper-evident watermark URLs.

A token URL has the form

	<apiRoot>wm/<filename>?u=<auxinfo>&s=<envelope>

where the s parameter carries a base64 encoded envelope. The envelope
holds the source image location encrypted under a per-token data key,
the data key wrapped under a named master key (see package
crypto/keywrap), and an encryption context recording the watermark, the
watermarking method and a hash of the auxiliary info. The context is
authenticated but not secret.

The u parameter repeats the auxiliary info in the clear so that it
remains readable and routable. It is not trusted: Decode recomputes its
hash and reports whether it matches the authenticated context in
Pieces.AuxInfoMatches. A false value means the URL was modified after
it was issued and should be treated as a security violation by the
caller; it is not reported as an error.

Envelopes use the AES256_GCM_HKDF_SHA512_COMMIT_KEY suite: content and
commitment keys are derived from the data key with HKDF-SHA512, salted
by a random 32 byte message ID, and the source location is sealed with
AES-256-GCM. The serialized envelope header is the associated data of
the seal, and the commitment ensures that a ciphertext opens under
exactly one data key.

Envelopes are serialized in protocol buffer wire format:

	1 version     varint
	2 suite       varint
	3 message_id  bytes (32)
	4 context     repeated {1 key, 2 value}, sorted by key
	5 wrapped_key {1 namespace, 2 key_name, 3 algorithm, 4 nonce, 5 ciphertext}
	6 commitment  bytes (32)
	7 nonce       bytes (12)
	8 ciphertext  bytes

Parsing is strict; anything other than the canonical encoding is
rejected.

Malformed URLs and envelopes produce errors of kind errors.Invalid;
failed cryptographic verification produces errors of kind
errors.Integrity. Both are fatal. IsFormatError and IsIntegrityError
classify them.
*/
package urltoken
