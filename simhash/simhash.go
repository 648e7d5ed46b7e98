// Package simhash computes 64-bit SimHash fingerprints. Near-identical
// inputs land within a few bits of each other, which makes the Hamming
// distance a cheap measure of how much a table's markup has moved.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint hashes the whitespace-separated words of text.
func Fingerprint(text string) uint64 {
	return FingerprintTokens(strings.Fields(text))
}

// FingerprintTokens hashes tokens with FNV-64a and accumulates a signed
// bit vector. An empty token list yields 0.
func FingerprintTokens(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int
	h := fnv.New64a()
	for _, tok := range tokens {
		h.Reset()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i, v := range vector {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
