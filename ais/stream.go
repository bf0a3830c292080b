// Copyright 2024 The Secure AISGen authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ais

import (
	"bytes"
	"encoding/binary"
	"errors"

	"k8s.io/klog/v2"
)

// Stream accumulates a boot image together with its shadow: the bytes of
// every signed command since the last signature.
//
// The two buffers are written in the same call so the shadow always
// mirrors the image tail byte for byte, except where a command declares a
// distinct signed form.
type Stream struct {
	Order binary.ByteOrder
	// Mirror enables the shadow buffer. Images without a trust model never
	// sign anything.
	Mirror bool

	out    bytes.Buffer
	shadow bytes.Buffer
}

// NewStream returns an empty stream in the given byte order.
func NewStream(order binary.ByteOrder, mirror bool) *Stream {
	return &Stream{
		Order:  order,
		Mirror: mirror,
	}
}

// Preamble writes the image magic number. It is not signed.
func (s *Stream) Preamble() {
	s.WriteWord(uint32(MagicNumber), false)
}

// Emit serialises c into the image, and into the shadow if c is signed.
func (s *Stream) Emit(c Command) error {
	if c == nil {
		return errors.New("nil command")
	}

	op := c.Opcode()
	p := c.Payload(s.Order)
	if len(p)%4 != 0 {
		return errors.New(op.String() + ": payload is not word aligned")
	}

	s.WriteWord(uint32(op), false)
	s.out.Write(p)

	if s.Mirror && c.Signed() {
		sp := p
		if sc, ok := c.(SignedPayloader); ok {
			sp = sc.SignedPayload(s.Order)
		}
		s.shadow.Write(s.word(uint32(op)))
		s.shadow.Write(sp)
	}

	klog.V(2).Infof("%v: %d payload bytes at image offset 0x%x", op, len(p), s.out.Len()-len(p)-4)

	return nil
}

func (s *Stream) word(v uint32) []byte {
	b := make([]byte, 4)
	s.Order.PutUint32(b, v)
	return b
}

// WriteWord appends v to the image and, if mirror is set, to the shadow.
func (s *Stream) WriteWord(v uint32, mirror bool) {
	s.Write(s.word(v), mirror)
}

// Write appends raw bytes to the image and, if mirror is set, to the shadow.
func (s *Stream) Write(b []byte, mirror bool) {
	s.out.Write(b)
	if mirror && s.Mirror {
		s.shadow.Write(b)
	}
}

// WriteSplit appends different bytes to the image and to the shadow.
func (s *Stream) WriteSplit(image, shadow []byte) {
	s.out.Write(image)
	if s.Mirror {
		s.shadow.Write(shadow)
	}
}

// Shadow returns the bytes awaiting a signature.
func (s *Stream) Shadow() []byte {
	return s.shadow.Bytes()
}

// ResetShadow discards the bytes covered by a signature just written.
func (s *Stream) ResetShadow() {
	s.shadow.Reset()
}

// Len returns the image length so far.
func (s *Stream) Len() int {
	return s.out.Len()
}

// Bytes returns the image as whole words. A trailing partial word, which
// well formed commands never produce, is dropped.
func (s *Stream) Bytes() []byte {
	b := s.out.Bytes()
	n := len(b) &^ 3
	if n != len(b) {
		klog.Warningf("Dropping %d trailing bytes not forming a whole word", len(b)-n)
	}
	out := make([]byte, n)
	for i := 0; i < n; i += 4 {
		s.Order.PutUint32(out[i:], s.Order.Uint32(b[i:]))
	}
	return out
}
