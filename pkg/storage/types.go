package storage

import "github.com/sw33tLie/togetter/pkg/record"

// Selection is the node currently shown on the device: a group, or a list
// inside that group when ListID is set. It doubles as the persisted
// settings object, GroupID being the configured root group.
type Selection struct {
	GroupID string `json:"groupId"`
	ListID  string `json:"listId,omitempty"`
}

// ViewingGroup selects the root group view.
func ViewingGroup(groupID string) Selection {
	return Selection{GroupID: groupID}
}

// ViewingList selects one list of a group.
func ViewingList(groupID, listID string) Selection {
	return Selection{GroupID: groupID, ListID: listID}
}

// IsList reports whether the selection is a list view.
func (s Selection) IsList() bool {
	return s.ListID != ""
}

func (s Selection) String() string {
	if s.IsList() {
		return "list " + s.GroupID + "/" + s.ListID
	}
	return "group " + s.GroupID
}

// CacheEntry is the last raw payload and its encoding. Record is always
// the encoding of Raw under Selection's rule.
type CacheEntry struct {
	Selection Selection
	Raw       string
	Record    record.Record
}

// IsEmpty reports an empty cache.
func (c CacheEntry) IsEmpty() bool {
	return c.Raw == ""
}

// State is everything the bridge persists.
type State struct {
	Selection Selection
	Cache     CacheEntry
}
