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
	"io"
	"math"
)

// Encoder is the write-side counterpart of Decoder.
type Encoder struct {
	w io.Writer

	currentFieldOpt *fieldOption
}

func NewBinEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(v interface{}) error {
	m, ok := v.(BinaryMarshaler)
	if !ok {
		return ErrShortBuffer
	}
	return m.MarshalWithEncoder(e)
}

func (e *Encoder) WriteBytes(b []byte, lengthPrefixed bool) error {
	if lengthPrefixed {
		if err := e.WriteCompactU16Length(len(b)); err != nil {
			return err
		}
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) WriteString(s string) error {
	return e.WriteBytes([]byte(s), true)
}

func (e *Encoder) WriteByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}

func (e *Encoder) WriteUint8(v uint8) error {
	return e.WriteByte(byte(v))
}

func (e *Encoder) WriteBool(v bool) error {
	if v {
		return e.WriteByte(1)
	}
	return e.WriteByte(0)
}

func (e *Encoder) WriteUint16(v uint16, order binary.ByteOrder) error {
	buf := make([]byte, 2)
	order.PutUint16(buf, v)
	_, err := e.w.Write(buf)
	return err
}

func (e *Encoder) WriteUint32(v uint32, order binary.ByteOrder) error {
	buf := make([]byte, 4)
	order.PutUint32(buf, v)
	_, err := e.w.Write(buf)
	return err
}

func (e *Encoder) WriteUint64(v uint64, order binary.ByteOrder) error {
	buf := make([]byte, 8)
	order.PutUint64(buf, v)
	_, err := e.w.Write(buf)
	return err
}

func (e *Encoder) WriteInt64(v int64, order binary.ByteOrder) error {
	return e.WriteUint64(uint64(v), order)
}

func (e *Encoder) WriteFloat64(v float64, order binary.ByteOrder) error {
	return e.WriteUint64(math.Float64bits(v), order)
}

// WriteCompactU16Length writes n as a compact-u16 (short-vec) varint.
func (e *Encoder) WriteCompactU16Length(n int) error {
	buf := make([]byte, 0, 3)
	EncodeCompactU16Length(&buf, n)
	_, err := e.w.Write(buf)
	return err
}

// EncodeCompactU16Length appends n's compact-u16 (short-vec) varint
// encoding to buf: 7 data bits per byte, continuation bit set while more
// remain. Matches Solana's on-wire short-vec length prefix.
func EncodeCompactU16Length(buf *[]byte, n int) {
	v := uint(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			*buf = append(*buf, b|0x80)
			continue
		}
		*buf = append(*buf, b)
		return
	}
}
