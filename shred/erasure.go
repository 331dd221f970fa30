// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package shred

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Coder is the replaceable Reed-Solomon dependency boundary: encode the K data shards into N-K coding shards, decode (in place,
// into caller-supplied nil slots) a set missing up to N-K shards, and
// divide a flat buffer into equal-size, word-aligned shards.
type Coder interface {
	// Encode fills the parity shards (indices K..N-1 of shards) from the
	// K data shards (indices 0..K-1). Every shard must already be sized
	// to the common shard length.
	Encode(shards [][]byte) error

	// Reconstruct fills the nil data entries of shards (indices 0..K-1)
	// given at least K non-nil entries, any K of the N; nil coding entries
	// are left nil.
	Reconstruct(shards [][]byte) error

	// Divide splits data into K equal-size shards padded to a multiple of
	// wordSize, returning the K data shards ready to pass to Encode
	// alongside N-K freshly allocated (zeroed) parity shards.
	Divide(data []byte) (dataShards, codingShards [][]byte, shardSize int, err error)
}

// wordSize is the Reed-Solomon GF word size, 32 bytes;
// every shard is padded to a multiple of it.
const wordSize = 32

// rsCoder wraps klauspost/reedsolomon, the corpus's erasure-coding
// dependency, behind the Coder interface.
type rsCoder struct {
	k, n int
	enc  reedsolomon.Encoder
}

// NewCoder returns a Coder for any (k, n) erasure set with 0 < k < n,
// power of two or not: k data shards, n-k coding shards.
func NewCoder(k, n int) (Coder, error) {
	if k <= 0 || n <= k {
		return nil, fmt.Errorf("shred: invalid erasure shape k=%d n=%d", k, n)
	}
	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, fmt.Errorf("shred: reedsolomon.New: %w", err)
	}
	return &rsCoder{k: k, n: n, enc: enc}, nil
}

func (c *rsCoder) Encode(shards [][]byte) error {
	if len(shards) != c.n {
		return fmt.Errorf("shred: Encode expects %d shards, got %d", c.n, len(shards))
	}
	return c.enc.Encode(shards)
}

func (c *rsCoder) Reconstruct(shards [][]byte) error {
	if len(shards) != c.n {
		return fmt.Errorf("shred: Reconstruct expects %d shards, got %d", c.n, len(shards))
	}
	return c.enc.ReconstructData(shards)
}

func (c *rsCoder) Divide(data []byte) (dataShards, codingShards [][]byte, shardSize int, err error) {
	shardSize = (len(data) + c.k - 1) / c.k
	if shardSize%wordSize != 0 {
		shardSize += wordSize - shardSize%wordSize
	}
	if shardSize == 0 {
		shardSize = wordSize
	}

	dataShards = make([][]byte, c.k)
	for i := 0; i < c.k; i++ {
		shard := make([]byte, shardSize)
		start := i * shardSize
		if start < len(data) {
			end := start + shardSize
			if end > len(data) {
				end = len(data)
			}
			copy(shard, data[start:end])
		}
		dataShards[i] = shard
	}

	codingShards = make([][]byte, c.n-c.k)
	for i := range codingShards {
		codingShards[i] = make([]byte, shardSize)
	}
	return dataShards, codingShards, shardSize, nil
}
