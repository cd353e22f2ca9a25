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

package proto

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	yaml "gopkg.in/yaml.v2"
)

func TestServerRole(t *testing.T) {
	Convey("role string and pruning authority", t, func() {
		So(Single.String(), ShouldEqual, "Single")
		So(Master.String(), ShouldEqual, "Master")
		So(Replica.String(), ShouldEqual, "Replica")
		So(ServerRole(100).String(), ShouldEqual, "Unknown")

		So(Single.CanPrune(), ShouldBeTrue)
		So(Master.CanPrune(), ShouldBeTrue)
		So(Replica.CanPrune(), ShouldBeFalse)
		So(Unknown.CanPrune(), ShouldBeFalse)
	})

	Convey("role parsing", t, func() {
		role, err := ParseServerRole(" Master ")
		So(err, ShouldBeNil)
		So(role, ShouldEqual, Master)

		_, err = ParseServerRole("leader")
		So(errors.Cause(err), ShouldEqual, ErrInvalidServerRole)
	})

	Convey("role yaml round trip", t, func() {
		var (
			in  = Replica
			out ServerRole
		)
		buf, err := yaml.Marshal(in)
		So(err, ShouldBeNil)
		So(yaml.Unmarshal(buf, &out), ShouldBeNil)
		So(out, ShouldEqual, Replica)

		So(yaml.Unmarshal([]byte("pruner"), &out), ShouldNotBeNil)
	})
}

func TestServerID(t *testing.T) {
	Convey("server id emptiness", t, func() {
		So(ServerID("").IsEmpty(), ShouldBeTrue)
		So(ServerID("web01/8CDDE5B8").IsEmpty(), ShouldBeFalse)
		So(ServerID("web01").String(), ShouldEqual, "web01")
	})
}

func TestStaticRole(t *testing.T) {
	Convey("static role accessor", t, func() {
		var acc RoleAccessor = StaticRole(Master)
		So(acc.CurrentServerRole(), ShouldEqual, Master)
	})
}
