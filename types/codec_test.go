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
	"fmt"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSerializeInstructions(t *testing.T) {
	refresherID := uuid.Must(uuid.NewV4())

	Convey("round trip preserves order and values", t, func() {
		in := []RefreshInstruction{
			NewRefreshByID(refresherID, 42),
			NewRefreshAll(refresherID),
			NewRemoveByID(refresherID, 7),
		}

		raw, err := SerializeInstructions(in)
		So(err, ShouldBeNil)

		out, err := ParseInstructions(raw)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
	})

	Convey("nil input serializes to an empty array", t, func() {
		raw, err := SerializeInstructions(nil)
		So(err, ShouldBeNil)
		So(raw, ShouldEqual, "[]")

		out, err := ParseInstructions(raw)
		So(err, ShouldBeNil)
		So(out, ShouldBeEmpty)
	})
}

func TestParseInstructions(t *testing.T) {
	refresherID := uuid.Must(uuid.NewV4())

	Convey("nested arrays are flattened in document order", t, func() {
		first, _ := SerializeInstructions([]RefreshInstruction{
			NewRefreshByID(refresherID, 1),
		})
		second, _ := SerializeInstructions([]RefreshInstruction{
			NewRefreshByID(refresherID, 2),
			NewRefreshByID(refresherID, 3),
		})
		third, _ := SerializeInstructions([]RefreshInstruction{
			NewRefreshByID(refresherID, 4),
		})

		// one top level instruction, then two nested batches, one doubly nested
		raw := fmt.Sprintf(`[%s, %s, [%s]]`,
			first[1:len(first)-1], second, third)

		out, err := ParseInstructions(raw)
		So(err, ShouldBeNil)
		So(len(out), ShouldEqual, 4)
		for i, ins := range out {
			So(ins.IntID, ShouldEqual, int64(i+1))
		}
	})

	Convey("malformed payloads fail with ErrInvalidInstructions", t, func() {
		for _, raw := range []string{
			"",
			"not json at all",
			`{"refresherId": "x"}`,
			`[{"refreshType": "nope"}]`,
			`[[{"refreshType": false}]]`,
		} {
			_, err := ParseInstructions(raw)
			So(errors.Cause(err), ShouldEqual, ErrInvalidInstructions)
		}
	})
}

func TestParseIntIDs(t *testing.T) {
	Convey("json integer arrays", t, func() {
		ids, err := ParseIntIDs("[1, 2, 3]")
		So(err, ShouldBeNil)
		So(ids, ShouldResemble, []int64{1, 2, 3})

		_, err = ParseIntIDs(`["a"]`)
		So(errors.Cause(err), ShouldEqual, ErrInvalidInstructions)
	})
}

func TestRefreshInstructionEquality(t *testing.T) {
	Convey("instructions are value types usable as map keys", t, func() {
		refresherID := uuid.Must(uuid.NewV4())

		a := NewRefreshByID(refresherID, 42)
		b := NewRefreshByID(refresherID, 42)
		c := NewRemoveByID(refresherID, 42)

		So(a == b, ShouldBeTrue)
		So(a == c, ShouldBeFalse)

		seen := map[RefreshInstruction]struct{}{}
		seen[a] = struct{}{}
		_, dup := seen[b]
		So(dup, ShouldBeTrue)
	})
}

func TestRefreshTypeString(t *testing.T) {
	Convey("refresh type names", t, func() {
		So(RefreshAll.String(), ShouldEqual, "RefreshAll")
		So(RefreshByGUID.String(), ShouldEqual, "RefreshByGUID")
		So(RefreshByID.String(), ShouldEqual, "RefreshByID")
		So(RefreshByIDs.String(), ShouldEqual, "RefreshByIDs")
		So(RefreshByJSON.String(), ShouldEqual, "RefreshByJSON")
		So(RemoveByID.String(), ShouldEqual, "RemoveByID")
		So(RefreshType(0).String(), ShouldEqual, "Unknown")
	})
}
