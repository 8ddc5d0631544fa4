/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didkey converts between base58 ed25519 verkeys and did:key identifiers.
package didkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/multiformats/go-multibase"
)

const (
	// source: https://github.com/multiformats/multicodec/blob/master/table.csv.
	ed25519pub = 0xed

	prefix = "did:key:"
)

// IsDIDKey reports whether key is a did:key identifier (optionally with a fragment).
func IsDIDKey(key string) bool {
	return strings.HasPrefix(key, prefix)
}

// FromVerKey creates the did:key identifier of a base58 ed25519 verkey.
func FromVerKey(verKey string) (string, error) {
	pub := base58.Decode(verKey)
	if len(pub) == 0 {
		return "", fmt.Errorf("invalid verkey %q", verKey)
	}

	mc := multicodec(ed25519pub)

	fp, err := multibase.Encode(multibase.Base58BTC, append(mc, pub...))
	if err != nil {
		return "", fmt.Errorf("encode fingerprint: %w", err)
	}

	return prefix + fp, nil
}

// ToVerKey extracts the base58 verkey from a did:key identifier.
func ToVerKey(didKey string) (string, error) {
	if !IsDIDKey(didKey) {
		return "", fmt.Errorf("not a did:key: %q", didKey)
	}

	fp := strings.TrimPrefix(didKey, prefix)
	if i := strings.Index(fp, "#"); i >= 0 {
		fp = fp[:i]
	}

	_, data, err := multibase.Decode(fp)
	if err != nil {
		return "", fmt.Errorf("decode fingerprint: %w", err)
	}

	mc := multicodec(ed25519pub)
	if len(data) <= len(mc) || !bytes.Equal(mc, data[:len(mc)]) {
		return "", fmt.Errorf("did:key %q: unsupported key type", didKey)
	}

	return base58.Encode(data[len(mc):]), nil
}

// Normalize returns the base58 verkey for key, which may be a verkey or a did:key.
func Normalize(key string) (string, error) {
	if IsDIDKey(key) {
		return ToVerKey(key)
	}

	if key == "" {
		return "", fmt.Errorf("empty key")
	}

	return key, nil
}

// NormalizeAll applies Normalize to every key.
func NormalizeAll(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))

	for _, k := range keys {
		n, err := Normalize(k)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

func multicodec(code uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, code)

	return buf[:n]
}
