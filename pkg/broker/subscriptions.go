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

package broker

import (
	"sync"

	"github.com/turtacn/mqttkit-go/pkg/session"
	"github.com/turtacn/mqttkit-go/pkg/topic"
)

// subscription binds one session to a topic filter at a QoS level.
type subscription struct {
	sess *session.Session
	qos  byte
}

// subscriptionSet is the broker's thread-safe registry of topic filters to
// subscribed sessions. Lookups match published topics against the stored
// filters with the protocol wildcards.
type subscriptionSet struct {
	filters map[string][]*subscription
	mu      sync.RWMutex
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{
		filters: make(map[string][]*subscription),
	}
}

// add subscribes a session to a filter. A session already subscribed to the
// same filter only has its QoS updated.
func (s *subscriptionSet) add(filter string, sess *session.Session, qos byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.filters[filter] {
		if sub.sess == sess {
			sub.qos = qos
			return
		}
	}
	s.filters[filter] = append(s.filters[filter], &subscription{sess: sess, qos: qos})
}

// remove unsubscribes a session from a filter. The filter entry is dropped
// with its last subscriber.
func (s *subscriptionSet) remove(filter string, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.filters[filter]
	kept := subs[:0]
	for _, sub := range subs {
		if sub.sess != sess {
			kept = append(kept, sub)
		}
	}
	if len(kept) > 0 {
		s.filters[filter] = kept
	} else {
		delete(s.filters, filter)
	}
}

// removeSession drops every subscription held by a session, typically when
// its connection ends.
func (s *subscriptionSet) removeSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for filter, subs := range s.filters {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.sess != sess {
				kept = append(kept, sub)
			}
		}
		if len(kept) > 0 {
			s.filters[filter] = kept
		} else {
			delete(s.filters, filter)
		}
	}
}

// match returns a copy of the subscriptions whose filter matches the
// published topic.
func (s *subscriptionSet) match(topicName string) []*subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*subscription
	for filter, subs := range s.filters {
		if topic.Matches(topicName, filter) {
			matched = append(matched, subs...)
		}
	}
	return matched
}
