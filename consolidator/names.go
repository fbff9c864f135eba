// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consolidator

import "fmt"

// fragmentSuffix names a fragment by the inclusive range of update-batch
// sequence numbers it covers.
func fragmentSuffix(lo, hi uint64) string {
	return fmt.Sprintf("%d_%d", lo, hi)
}

// nextFragmentName returns the "s_s" name for a fresh single fragment
// about to be assigned sequence number s.
func nextFragmentName(nextSeq uint64) string {
	return fragmentSuffix(nextSeq, nextSeq)
}
