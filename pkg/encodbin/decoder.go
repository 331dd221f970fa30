// Copyright 2021 github.com/gagliardetto
// This file has been modified by github.com/gagliardetto
//
// Copyright 2020 dfuse Platform Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package encodbin

import (
	"encoding/binary"
	"fmt"
	"math"
)

var defaultByteOrder binary.ByteOrder = binary.LittleEndian

type BinaryUnmarshaler interface {
	UnmarshalWithDecoder(decoder *Decoder) error
}

type BinaryMarshaler interface {
	MarshalWithEncoder(encoder *Encoder) error
}

// Decoder reads the little-endian, compact-u16-length-prefixed wire format
// of transaction messages.
type Decoder struct {
	data []byte
	pos  int

	currentFieldOpt *fieldOption
}

// fieldOption lets a field override the byte order used to decode it --
// only Uint128-style multi-word fields need this, everything else defaults
// to little-endian.
type fieldOption struct {
	Order binary.ByteOrder
}

func NewBinDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Decode dispatches to v's UnmarshalWithDecoder, if it implements one.
func (d *Decoder) Decode(v interface{}) error {
	u, ok := v.(BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("encodbin: %T does not implement UnmarshalWithDecoder", v)
	}
	return u.UnmarshalWithDecoder(d)
}

func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

func (d *Decoder) Peek(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, fmt.Errorf("encodbin: peek %d bytes: %w", n, ErrShortBuffer)
	}
	return d.data[d.pos : d.pos+n], nil
}

func (d *Decoder) ReadNBytes(n int) ([]byte, error) {
	b, err := d.Peek(n)
	if err != nil {
		return nil, err
	}
	d.pos += n
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Read implements io.Reader.
func (d *Decoder) Read(p []byte) (int, error) {
	b, err := d.ReadNBytes(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(p), nil
}

func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.ReadNBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadUint8() (uint8, error) {
	b, err := d.ReadByte()
	return uint8(b), err
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	return b != 0, err
}

func (d *Decoder) ReadUint16(order binary.ByteOrder) (uint16, error) {
	b, err := d.ReadNBytes(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

func (d *Decoder) ReadUint32(order binary.ByteOrder) (uint32, error) {
	b, err := d.ReadNBytes(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

func (d *Decoder) ReadUint64(order binary.ByteOrder) (uint64, error) {
	b, err := d.ReadNBytes(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

func (d *Decoder) ReadInt64(order binary.ByteOrder) (int64, error) {
	v, err := d.ReadUint64(order)
	return int64(v), err
}

func (d *Decoder) ReadFloat64(order binary.ByteOrder) (float64, error) {
	v, err := d.ReadUint64(order)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadCompactU16 reads a "compact-u16" (aka short-vec) length varint: 7 data
// bits per byte, high bit set means "more bytes follow". Values fit in three
// bytes (max 2^16-1).
func (d *Decoder) ReadCompactU16() (int, error) {
	var out int
	for shift := uint(0); shift < 21; shift += 7 {
		b, err := d.ReadByte()
		if err != nil {
			return 0, err
		}
		out |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return out, nil
		}
	}
	return 0, fmt.Errorf("encodbin: compact-u16 overflow")
}

// ReadCompactU16Length is an alias kept for call sites that read a
// length-prefixed byte slice's count (same varint, distinct name for
// readability at call sites shaped like "read N, then read N indexes").
func (d *Decoder) ReadCompactU16Length() (int, error) {
	return d.ReadCompactU16()
}

func (d *Decoder) ReadByteSlice() ([]byte, error) {
	n, err := d.ReadCompactU16()
	if err != nil {
		return nil, err
	}
	return d.ReadNBytes(n)
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadByteSlice()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var ErrShortBuffer = fmt.Errorf("unexpected end of buffer")
