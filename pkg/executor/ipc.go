// Copyright 2025 Tom Barlow
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

// Package executor runs one task attempt as a real child process and
// collects its outcome over a small framed pipe protocol — no fork(), since
// Go cannot safely fork a multi-threaded process and re-exec is the
// idiomatic substitute.
package executor

import (
	"encoding/binary"
	"encoding/json"
	"io"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

const maxFrameBytes = 16 << 20 // 16MiB guards against a corrupt length prefix

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "writing frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "writing frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, or returns io.EOF if r is
// closed before any bytes arrive (the normal case for a child that never
// reached the point of writing a result, e.g. it was killed by a signal).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, flowerrors.NewFlowError(flowerrors.KindInternal, "ipc: frame length exceeds limit")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "reading frame payload")
	}
	return buf, nil
}

// WriteJSON marshals v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "marshaling ipc frame")
	}
	return WriteFrame(w, payload)
}

// ReadJSON reads one frame and unmarshals it into v.
func ReadJSON(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "unmarshaling ipc frame")
	}
	return nil
}
