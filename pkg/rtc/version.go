// Copyright 2023 LiveKit, Inc.
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

package rtc

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// servers up to and including the 0.5.x line speak a protocol this client understands
const supportedServerVersions = ">= 0.0.0, < 0.6.0"

var serverVersionConstraint goversion.Constraints

func init() {
	c, err := goversion.NewConstraint(supportedServerVersions)
	if err != nil {
		panic(err)
	}
	serverVersionConstraint = c
}

// CheckServerVersion accepts only three part semantic versions inside the supported window.
func CheckServerVersion(serverVersion string) error {
	v, err := goversion.NewSemver(serverVersion)
	if err != nil {
		return errors.Wrapf(ErrInvalidVersion, "%q: %v", serverVersion, err)
	}

	core := strings.TrimPrefix(serverVersion, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if len(strings.Split(core, ".")) != 3 {
		return errors.Wrapf(ErrInvalidVersion, "%q is not a three part version", serverVersion)
	}

	if !serverVersionConstraint.Check(v.Core()) {
		return errors.Wrapf(ErrIncompatibleVersion, "version: %s, supported: %s", serverVersion, supportedServerVersions)
	}
	return nil
}
