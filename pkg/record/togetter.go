package record

import "github.com/sw33tLie/togetter/pkg/togetter"

// ListRecord encodes a list: one entry per item, metadata carrying the
// collected bit and the amount. Amounts above 127 spill into the collected
// bit.
func ListRecord(l togetter.List) Record {
	return Encode(l.Label, l.Items, togetter.Item.DisplayName, ItemMeta)
}

// GroupRecord encodes a group: one entry per list, no metadata.
func GroupRecord(g togetter.Group) Record {
	return Encode(g.Label, g.Lists,
		func(l togetter.ListSummary) string { return l.Label },
		func(togetter.ListSummary) byte { return 0 },
	)
}

// ItemMeta packs the collected flag and amount into one byte.
func ItemMeta(i togetter.Item) byte {
	var meta byte
	if i.Collected {
		meta = CollectedMask
	}
	return meta | byte(i.Amount)
}
