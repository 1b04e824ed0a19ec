package togetter

import (
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrInvalidPayload = errors.New("payload is not valid JSON")

// ListSummary is a list as it appears inside its group.
type ListSummary struct {
	ID    string
	Label string
}

// Group is the top-level collection of lists.
type Group struct {
	Label string
	Lists []ListSummary
}

// Item is a single checkable entry of a list.
type Item struct {
	ID        string
	Name      string
	Amount    int
	Collected bool
}

// DisplayName falls back to the item identifier, which is what the API
// used before items carried a separate name.
func (i Item) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

// List is a named collection of items.
type List struct {
	Label string
	Items []Item
}

// ParseGroup reads a group payload. Missing fields are left at their zero
// value.
func ParseGroup(raw string) (Group, error) {
	if !gjson.Valid(raw) {
		return Group{}, ErrInvalidPayload
	}
	g := Group{Label: gjson.Get(raw, "label").String()}
	gjson.Get(raw, "lists").ForEach(func(_, value gjson.Result) bool {
		g.Lists = append(g.Lists, ListSummary{
			ID:    value.Get("id").String(),
			Label: value.Get("label").String(),
		})
		return true
	})
	return g, nil
}

// ParseList reads a list payload. Missing fields are left at their zero
// value.
func ParseList(raw string) (List, error) {
	if !gjson.Valid(raw) {
		return List{}, ErrInvalidPayload
	}
	l := List{Label: gjson.Get(raw, "label").String()}
	gjson.Get(raw, "items").ForEach(func(_, value gjson.Result) bool {
		l.Items = append(l.Items, Item{
			ID:        value.Get("item").String(),
			Name:      value.Get("name").String(),
			Amount:    int(value.Get("amount").Int()),
			Collected: value.Get("collected").Bool(),
		})
		return true
	})
	return l, nil
}

// ToggleCollected flips the collected flag of item index inside a raw list
// payload, leaving every other byte of the document alone. It returns the
// new payload and the toggled item.
func ToggleCollected(raw string, index int) (string, Item, error) {
	l, err := ParseList(raw)
	if err != nil {
		return "", Item{}, err
	}
	if index < 0 || index >= len(l.Items) {
		return "", Item{}, ErrIndexOutOfRange
	}
	item := l.Items[index]
	item.Collected = !item.Collected
	out, err := sjson.Set(raw, "items."+strconv.Itoa(index)+".collected", item.Collected)
	if err != nil {
		return "", Item{}, err
	}
	return out, item, nil
}

var ErrIndexOutOfRange = errors.New("index out of range")
