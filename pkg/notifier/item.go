package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ItemType is the kind of a content item. Events may carry either the name
// or the community's numeric type code.
type ItemType string

const (
	TypeNormal        ItemType = "normal"
	TypeDiscussion    ItemType = "discussion"
	TypeCityBroadcast ItemType = "city_broadcast"
	TypeThought       ItemType = "thought"
	TypeQnA           ItemType = "qna"
)

var typeCodes = map[int]ItemType{
	0: TypeNormal,
	1: TypeDiscussion,
	2: TypeCityBroadcast,
	3: TypeThought,
	5: TypeQnA,
}

// ParseItemType accepts a type name or numeric code. Unknown names are kept
// as given, lowercased; unknown codes become "type_<n>".
func ParseItemType(s string) ItemType {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if t, ok := typeCodes[n]; ok {
			return t
		}
		return ItemType(fmt.Sprintf("type_%d", n))
	}
	if s == "" {
		return TypeNormal
	}
	return ItemType(strings.ToLower(s))
}

func (t *ItemType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ParseItemType(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item type: %w", err)
	}
	*t = ParseItemType(n.String())
	return nil
}

// ItemID is an opaque identifier that may arrive as a JSON string or number.
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// ContentItem is a newly created article as delivered by the content platform.
type ContentItem struct {
	ID        ItemID   `json:"id"`
	Title     string   `json:"title"`
	Type      ItemType `json:"type"`
	Permalink string   `json:"permalink"`
}
