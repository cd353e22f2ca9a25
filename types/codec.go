/*
 * Copyright 2019 The CacheFarm Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInstructions represents a serialized batch that is not valid JSON
	// or not an instruction array.
	ErrInvalidInstructions = errors.New("invalid serialized instructions")
)

// SerializeInstructions encodes instructions as the JSON array stored in a
// log row.
func SerializeInstructions(instructions []RefreshInstruction) (raw string, err error) {
	if instructions == nil {
		instructions = []RefreshInstruction{}
	}

	var buf []byte
	if buf, err = json.Marshal(instructions); err != nil {
		err = errors.Wrap(err, "serialize instructions failed")
		return
	}

	raw = string(buf)
	return
}

// ParseInstructions decodes the serialized payload of a log row.
//
// A batch may contain sub-arrays of instructions at arbitrary depth; elements
// are flattened in document order. Flattening walks an explicit frame stack
// instead of recursing, so a deeply nested payload cannot exhaust the call
// stack.
func ParseInstructions(raw string) (instructions []RefreshInstruction, err error) {
	var top []json.RawMessage
	if err = json.Unmarshal([]byte(raw), &top); err != nil {
		err = errors.Wrap(ErrInvalidInstructions, err.Error())
		return
	}

	type frame struct {
		items []json.RawMessage
		next  int
	}

	stack := []frame{{items: top}}

	for len(stack) > 0 {
		f := &stack[len(stack)-1]

		if f.next == len(f.items) {
			stack = stack[:len(stack)-1]
			continue
		}

		item := f.items[f.next]
		f.next++

		if isJSONArray(item) {
			var nested []json.RawMessage
			if err = json.Unmarshal(item, &nested); err != nil {
				err = errors.Wrap(ErrInvalidInstructions, err.Error())
				return
			}
			stack = append(stack, frame{items: nested})
			continue
		}

		var ins RefreshInstruction
		if err = json.Unmarshal(item, &ins); err != nil {
			err = errors.Wrap(ErrInvalidInstructions, err.Error())
			return
		}
		instructions = append(instructions, ins)
	}

	return
}

// ParseIntIDs decodes the JSON integer array carried by a RefreshByIDs
// instruction.
func ParseIntIDs(jsonIDs string) (ids []int64, err error) {
	if err = json.Unmarshal([]byte(jsonIDs), &ids); err != nil {
		err = errors.Wrap(ErrInvalidInstructions, err.Error())
	}
	return
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
