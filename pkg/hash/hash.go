// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash provides content identifiers for inputs and crash keys
// and a fast non-cryptographic hash for coverage signatures.
package hash

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// String returns hex sha1 of the concatenated pieces.
// It is the content identifier of corpus entries.
func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

// Truncate64 returns first 64 bits of the hash.
func (sig Sig) Truncate64() uint64 {
	return binary.LittleEndian.Uint64(sig[:8])
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	if len(bin) != len(Sig{}) {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}

// Valid says if str looks like a content identifier.
func Valid(str string) bool {
	_, err := FromString(str)
	return err == nil
}

// Fast returns xxhash64 of the concatenated pieces.
func Fast(pieces ...[]byte) uint64 {
	d := xxhash.New()
	for _, data := range pieces {
		d.Write(data)
	}
	return d.Sum64()
}
