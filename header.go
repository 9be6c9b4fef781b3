// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http11

import (
	"bytes"
	"strconv"
	"strings"
)

// MessageBytes holds either a byte view or a string. Parsed values are byte
// views into the connection buffer and are only turned into strings when
// somebody asks for one.
type MessageBytes struct {
	b         []byte
	s         string
	hasString bool
}

// SetBytes points the holder at b without copying.
func (m *MessageBytes) SetBytes(b []byte) {
	m.b = b
	m.s = ""
	m.hasString = false
}

// SetString stores s.
func (m *MessageBytes) SetString(s string) {
	m.b = nil
	m.s = s
	m.hasString = true
}

// IsNull reports whether nothing was ever set.
func (m *MessageBytes) IsNull() bool {
	return m.b == nil && !m.hasString
}

// String materializes and caches the value.
func (m *MessageBytes) String() string {
	if !m.hasString {
		m.s = string(m.b)
		m.hasString = true
	}
	return m.s
}

// Bytes returns the byte view, or the string's bytes when set from a string.
func (m *MessageBytes) Bytes() []byte {
	if m.b == nil && m.hasString {
		return []byte(m.s)
	}
	return m.b
}

// Len is the length of the value.
func (m *MessageBytes) Len() int {
	if m.b != nil {
		return len(m.b)
	}
	return len(m.s)
}

// Equal compares case-sensitively.
func (m *MessageBytes) Equal(s string) bool {
	if m.b != nil {
		return string(m.b) == s
	}
	return m.s == s
}

// EqualFold compares ignoring ASCII case.
func (m *MessageBytes) EqualFold(s string) bool {
	if m.b != nil {
		return bytesEqualFoldString(m.b, s)
	}
	return strings.EqualFold(m.s, s)
}

// Int64 parses a non-negative decimal value.
func (m *MessageBytes) Int64() (int64, error) {
	if m.b != nil {
		return parseDecimal(m.b)
	}
	return parseDecimal([]byte(m.s))
}

// Recycle clears the holder.
func (m *MessageBytes) Recycle() {
	m.b = nil
	m.s = ""
	m.hasString = false
}

type headerField struct {
	name  MessageBytes
	value MessageBytes
}

// HeaderSet is an ordered multi-map of header fields. Lookups ignore ASCII
// case; names are kept as written.
type HeaderSet struct {
	fields []headerField
}

// NewHeaderSet allocates an empty set.
func NewHeaderSet() *HeaderSet {
	return &HeaderSet{fields: make([]headerField, 0, 16)}
}

// Len is the number of fields, counting repeats.
func (h *HeaderSet) Len() int { return len(h.fields) }

// AddBytes appends a field whose name and value alias parser memory.
func (h *HeaderSet) AddBytes(name, value []byte) {
	h.fields = append(h.fields, headerField{})
	f := &h.fields[len(h.fields)-1]
	f.name.SetBytes(name)
	f.value.SetBytes(value)
}

// Add appends a field.
func (h *HeaderSet) Add(name, value string) {
	h.fields = append(h.fields, headerField{})
	f := &h.fields[len(h.fields)-1]
	f.name.SetString(name)
	f.value.SetString(value)
}

// Set replaces the first field named name and removes the others, or
// appends a new field.
func (h *HeaderSet) Set(name, value string) {
	for i := range h.fields {
		if h.fields[i].name.EqualFold(name) {
			h.fields[i].value.SetString(value)
			h.removeFrom(name, i+1)
			return
		}
	}
	h.Add(name, value)
}

// Get returns the first value for name.
func (h *HeaderSet) Get(name string) (string, bool) {
	if f := h.find(name); f != nil {
		return f.value.String(), true
	}
	return "", false
}

// Value returns the holder of the first value for name, or nil.
func (h *HeaderSet) Value(name string) *MessageBytes {
	if f := h.find(name); f != nil {
		return &f.value
	}
	return nil
}

// Has reports whether a field named name exists.
func (h *HeaderSet) Has(name string) bool {
	return h.find(name) != nil
}

// Values returns every value for name in order.
func (h *HeaderSet) Values(name string) []string {
	var values []string
	for i := range h.fields {
		if h.fields[i].name.EqualFold(name) {
			values = append(values, h.fields[i].value.String())
		}
	}
	return values
}

// Del removes every field named name.
func (h *HeaderSet) Del(name string) {
	h.removeFrom(name, 0)
}

// Range calls f for each field in order until f returns false.
func (h *HeaderSet) Range(f func(name, value string) bool) {
	for i := range h.fields {
		if !f(h.fields[i].name.String(), h.fields[i].value.String()) {
			return
		}
	}
}

// rangeBytes is Range without materializing strings.
func (h *HeaderSet) rangeBytes(f func(name, value []byte) bool) {
	for i := range h.fields {
		if !f(h.fields[i].name.Bytes(), h.fields[i].value.Bytes()) {
			return
		}
	}
}

// Reset removes every field, keeping the backing storage.
func (h *HeaderSet) Reset() {
	for i := range h.fields {
		h.fields[i].name.Recycle()
		h.fields[i].value.Recycle()
	}
	h.fields = h.fields[:0]
}

func (h *HeaderSet) find(name string) *headerField {
	for i := range h.fields {
		if h.fields[i].name.EqualFold(name) {
			return &h.fields[i]
		}
	}
	return nil
}

func (h *HeaderSet) removeFrom(name string, from int) {
	kept := h.fields[:from]
	for i := from; i < len(h.fields); i++ {
		if !h.fields[i].name.EqualFold(name) {
			kept = append(kept, h.fields[i])
		}
	}
	for i := len(kept); i < len(h.fields); i++ {
		h.fields[i] = headerField{}
	}
	h.fields = kept
}

func bytesEqualFoldString(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if lower(b[i]) != lower(s[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func parseDecimal(b []byte) (int64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		if n > (1<<63-1-int64(c-'0'))/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
