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

// Package memrange keeps track of the target memory claimed by loaded
// sections so that two sections can never be loaded over each other.
package memrange

import (
	"fmt"
	"sort"

	"k8s.io/klog/v2"
)

// Range is an inclusive span of target addresses.
type Range struct {
	// Name identifies the owner of the range, usually a section name.
	Name  string
	Start uint32
	End   uint32
}

func (r Range) String() string {
	return fmt.Sprintf("%s [0x%08x-0x%08x]", r.Name, r.Start, r.End)
}

func (r Range) overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// OverlapError is returned when a range collides with one already committed.
type OverlapError struct {
	New      Range
	Existing Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("memory range %v overlaps %v", e.New, e.Existing)
}

// Tracker records committed ranges.
//
// The zero value is ready to use.
type Tracker struct {
	ranges []Range
}

// Add claims size bytes starting at start on behalf of name.
//
// Zero sized claims are accepted and not recorded.
func (t *Tracker) Add(name string, start, size uint32) error {
	if size == 0 {
		return nil
	}
	end := uint64(start) + uint64(size) - 1
	if end > 0xffffffff {
		return fmt.Errorf("memory range %s at 0x%08x with size 0x%x exceeds the 32-bit address space", name, start, size)
	}
	r := Range{
		Name:  name,
		Start: start,
		End:   uint32(end),
	}
	for _, e := range t.ranges {
		if r.overlaps(e) {
			return &OverlapError{New: r, Existing: e}
		}
	}
	t.ranges = append(t.ranges, r)
	klog.V(2).Infof("Claimed memory range %v", r)

	return nil
}

// Ranges returns the committed ranges ordered by start address.
func (t *Tracker) Ranges() []Range {
	r := make([]Range, len(t.ranges))
	copy(r, t.ranges)
	sort.Slice(r, func(i, j int) bool { return r[i].Start < r[j].Start })
	return r
}

// Clone returns an independent copy of t. Ranges added to the copy are not
// seen by t.
func (t *Tracker) Clone() Tracker {
	return Tracker{ranges: append([]Range(nil), t.ranges...)}
}

// Reset forgets every committed range.
func (t *Tracker) Reset() {
	t.ranges = nil
}
