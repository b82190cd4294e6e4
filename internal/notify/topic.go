// Package notify defines the typed topics and the publisher contract used
// to broadcast reservation changes.  Delivery is best effort: subscribers
// must treat events as hints and re-fetch authoritative state.
package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicKind distinguishes the families of broadcast channels.
type TopicKind string

const (
	KindSlot    TopicKind = "slot"
	KindUser    TopicKind = "user"
	KindCatalog TopicKind = "catalog"
	KindAdmin   TopicKind = "admin"
)

// Topic addresses a broadcast channel.  Key is empty for the catalog and
// admin topics.
type Topic struct {
	Kind TopicKind
	Key  string
}

// SlotTopic is the channel of everyone watching a time window.
func SlotTopic(slotNumber int) Topic {
	return Topic{Kind: KindSlot, Key: strconv.Itoa(slotNumber)}
}

// UserTopic is a user's private channel.
func UserTopic(userID uint64) Topic {
	return Topic{Kind: KindUser, Key: strconv.FormatUint(userID, 10)}
}

// CatalogTopic carries cross-cutting menu/catalog refresh hints.
func CatalogTopic() Topic { return Topic{Kind: KindCatalog} }

// AdminTopic is the administrators' inbox.
func AdminTopic() Topic { return Topic{Kind: KindAdmin} }

// String renders the wire name, e.g. "slot:2", "user:17" or "catalog".
func (t Topic) String() string {
	if t.Key == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Key
}

// MarshalText lets topics appear as plain strings in JSON.
func (t Topic) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText is the inverse of MarshalText.
func (t *Topic) UnmarshalText(b []byte) error {
	p, err := ParseTopic(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// ParseTopic parses the wire name of a topic.  Numeric keys come back in
// canonical form, so "slot:01" is the topic the service publishes as
// "slot:1".
func ParseTopic(s string) (Topic, error) {
	s = strings.TrimSpace(s)
	kind, key, _ := strings.Cut(s, ":")
	switch TopicKind(kind) {
	case KindCatalog, KindAdmin:
		if key != "" {
			return Topic{}, fmt.Errorf("topic %q takes no key", kind)
		}
		return Topic{Kind: TopicKind(kind)}, nil
	case KindSlot:
		n, err := strconv.Atoi(key)
		if err != nil {
			return Topic{}, fmt.Errorf("invalid slot topic %q", s)
		}
		return SlotTopic(n), nil
	case KindUser:
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return Topic{}, fmt.Errorf("invalid user topic %q", s)
		}
		return UserTopic(id), nil
	}
	return Topic{}, fmt.Errorf("unknown topic %q", s)
}
