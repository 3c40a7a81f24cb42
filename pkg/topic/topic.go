// Copyright 2024 The mqttkit-go Authors
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

// Package topic implements MQTT topic-filter matching (+ and # wildcards)
// and an immutable compiled table mapping filters to dense route indices.
package topic

import "strings"

// entry binds one topic filter to its route index.
type entry struct {
	filter string
	index  int
}

// Builder collects filter/index bindings before compilation. Builders are
// not safe for concurrent use; compiled Tables are.
type Builder struct {
	entries []entry
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers a topic filter under the given route index. Filters are
// matched in registration order.
func (b *Builder) Add(filter string, index int) *Builder {
	b.entries = append(b.entries, entry{filter: filter, index: index})
	return b
}

// Compile seals the registered bindings into an immutable Table. The Table
// holds its own copy of the entries, so later Add calls on the Builder have
// no effect on it.
func (b *Builder) Compile() *Table {
	entries := make([]entry, len(b.entries))
	copy(entries, b.entries)
	return &Table{entries: entries}
}

// Table is an immutable filter table shared read-only across sessions.
// No synchronization is needed: a Table is never mutated after Compile.
type Table struct {
	entries []entry
}

// Match returns the index of the first registered filter matching the topic.
// When several filters match, the earliest registration wins.
func (t *Table) Match(topic string) (int, bool) {
	for _, e := range t.entries {
		if Matches(topic, e.filter) {
			return e.index, true
		}
	}
	return 0, false
}

// Len returns the number of registered filters.
func (t *Table) Len() int {
	return len(t.entries)
}

// Matches reports whether a published topic matches a subscription filter,
// per the MQTT 3.1.1 rules for the + and # wildcards.
func Matches(topic, filter string) bool {
	topicSegments := strings.Split(topic, "/")
	filterSegments := strings.Split(filter, "/")

	topicLen := len(topicSegments)
	filterLen := len(filterSegments)

	for i := 0; i < filterLen; i++ {
		if i >= topicLen {
			// The filter has more segments than the topic; only a
			// trailing '#' can still match.
			return filterSegments[i] == "#" && i == filterLen-1
		}

		filterSegment := filterSegments[i]

		if filterSegment == "#" {
			// '#' must be the last segment in the filter.
			return i == filterLen-1
		}

		if filterSegment != "+" && filterSegment != topicSegments[i] {
			return false
		}
	}

	return topicLen == filterLen
}
