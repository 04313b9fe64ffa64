package inspector

import (
	"encoding/json"
	"fmt"
)

// TopicKind separates per-inspector topics from store-wide ones.
type TopicKind uint8

const (
	KindValue TopicKind = iota + 1
	KindPulses
)

// Topic is a store event topic.
type Topic struct {
	Kind TopicKind
	ID   string
}

// TopicPulsesChanged fires after every frame that touched pulse state.
var TopicPulsesChanged = Topic{Kind: KindPulses}

// ValueTopic is the topic for updates to one inspector id. The payload is
// a Value.
func ValueTopic(id string) Topic {
	return Topic{Kind: KindValue, ID: id}
}

// State classifies a connection value lookup.
type State uint8

const (
	Unknown State = iota
	Known
	NotTriggered
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case NotTriggered:
		return "not-triggered"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Lookup is the result of ValueForConnection. Value is set only when State
// is Known.
type Lookup struct {
	State State
	Value json.RawMessage
}
