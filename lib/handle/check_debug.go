// Copyright 2025 Antfly, Inc.
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

//go:build nerdebug

package handle

import "fmt"

// Debug reports whether accessor checks are compiled in.
const Debug = true

func checkKind(h *Handle, want Kind) {
	if got := h.Kind(); got != want {
		panic(fmt.Sprintf("handle: %s accessor called on a %s handle", want, got))
	}
}

func checkIndex(i, n int) {
	if i < 0 || i >= n {
		panic(fmt.Sprintf("handle: index %d out of range [0, %d)", i, n))
	}
}
