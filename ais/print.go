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
	"fmt"
)

func (e Entry) String() string {
	if e.Command == nil {
		return fmt.Sprintf("0x%06x  %-16s %d bytes", e.Offset, "Signature", len(e.Signature))
	}
	s := fmt.Sprintf("0x%06x  %-16s", e.Offset, e.Command.Opcode())
	if st, ok := e.Command.(fmt.Stringer); ok {
		s += " " + st.String()
	}
	return s
}

// Print returns a decoded image listing in textual format.
func Print(entries []Entry, l Layout) string {
	var buf bytes.Buffer

	var cmds, sigs int
	for _, e := range entries {
		if e.Command == nil {
			sigs++
		} else {
			cmds++
		}
	}

	buf.WriteString("------------------------------------------------------------ AIS image ----\n")
	buf.WriteString(fmt.Sprintf("Byte order .............: %v\n", l.Order))
	buf.WriteString(fmt.Sprintf("Security ...............: %v\n", l.Secure))
	buf.WriteString(fmt.Sprintf("Commands ...............: %d\n", cmds))
	buf.WriteString(fmt.Sprintf("Signatures .............: %d\n", sigs))
	buf.WriteString("---------------------------------------------------------------------------\n")
	for _, e := range entries {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}

	return buf.String()
}
