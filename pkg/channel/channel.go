// Package channel defines the logical message lanes shared by clients and servers.
package channel

import (
	"fmt"
	"strings"
)

// ID identifies a channel. IDs are dense, 0..Count-1 of the declaring Set.
type ID uint8

// MaxCount is the largest number of channels a Set can hold.
const MaxCount = 256

// Kind selects the delivery guarantees a backend applies to a channel.
type Kind int

const (
	Unreliable Kind = iota
	ReliableUnordered
	ReliableOrdered
)

func (k Kind) String() string {
	switch k {
	case Unreliable:
		return "unreliable"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return "unknown"
	}
}

// Reliable reports whether messages on the channel must not be dropped by the backend.
func (k Kind) Reliable() bool {
	return k == ReliableUnordered || k == ReliableOrdered
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unreliable":
		return Unreliable, nil
	case "reliable-unordered", "unordered":
		return ReliableUnordered, nil
	case "reliable-ordered", "ordered", "reliable":
		return ReliableOrdered, nil
	default:
		return 0, fmt.Errorf("unknown channel kind %q", s)
	}
}

// Channel describes one declared channel.
type Channel struct {
	ID   ID
	Name string
	Kind Kind
}

// Set is the list of channels a server declares. Clients size their
// inbound queues to its Count.
type Set struct {
	channels []Channel
}

// Default channels used by the replication layer.
const (
	Init   ID = 0
	Update ID = 1
)

// DefaultSet returns the two channels replication needs: an ordered
// init channel and an unreliable update channel.
func DefaultSet() *Set {
	s := &Set{}
	s.Add("init", ReliableOrdered)
	s.Add("update", Unreliable)
	return s
}

// Add appends a channel and returns its id. It panics when the set is full.
func (s *Set) Add(name string, kind Kind) ID {
	if len(s.channels) >= MaxCount {
		panic(fmt.Sprintf("channel set is full, cannot add %q", name))
	}
	id := ID(len(s.channels))
	s.channels = append(s.channels, Channel{ID: id, Name: name, Kind: kind})
	return id
}

// Count returns the number of declared channels.
func (s *Set) Count() int {
	return len(s.channels)
}

// Get returns the channel with the given id.
func (s *Set) Get(id ID) (Channel, bool) {
	if int(id) >= len(s.channels) {
		return Channel{}, false
	}
	return s.channels[id], true
}

// Kind returns the kind of a channel. Unknown ids are treated as reliable
// so a backend never silently downgrades delivery.
func (s *Set) Kind(id ID) Kind {
	ch, ok := s.Get(id)
	if !ok {
		return ReliableOrdered
	}
	return ch.Kind
}

// Lookup finds a channel by name.
func (s *Set) Lookup(name string) (Channel, bool) {
	for _, ch := range s.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// All returns a copy of the declared channels.
func (s *Set) All() []Channel {
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}
