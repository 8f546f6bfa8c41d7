package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"testing/quick"
)

type recordingSender struct {
	sent []string
	err  error
}

func (r *recordingSender) Send(text string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func TestNotify_Format(t *testing.T) {
	s := &recordingSender{}
	n := New("https://hacpai.com", nil, s)

	item := ContentItem{ID: "1", Title: "Go 1.26 发布", Type: TypeNormal, Permalink: "/article/1"}
	if err := n.Notify(context.Background(), item); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	want := "Go 1.26 发布 https://hacpai.com/article/1"
	if len(s.sent) != 1 || s.sent[0] != want {
		t.Errorf("sent: got %q, want [%q]", s.sent, want)
	}
}

func TestNotify_ExcludedTypesNeverSend(t *testing.T) {
	s := &recordingSender{}
	n := New("https://hacpai.com", nil, s)

	f := func(id, title, permalink string, thought bool) bool {
		typ := TypeDiscussion
		if thought {
			typ = TypeThought
		}
		err := n.Notify(context.Background(), ContentItem{ID: ItemID(id), Title: title, Type: typ, Permalink: permalink})
		return errors.Is(err, ErrExcluded) && len(s.sent) == 0
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestNotify_OtherTypesSendExactlyOnce(t *testing.T) {
	types := []ItemType{TypeNormal, TypeCityBroadcast, TypeQnA, "type_4"}
	f := func(title, permalink string, pick uint8) bool {
		s := &recordingSender{}
		n := New("http://localhost:8080", nil, s)
		item := ContentItem{Title: title, Type: types[int(pick)%len(types)], Permalink: permalink}
		if err := n.Notify(context.Background(), item); err != nil {
			return false
		}
		return len(s.sent) == 1 && s.sent[0] == title+" "+"http://localhost:8080"+permalink
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestNotify_ConfiguredExclusions(t *testing.T) {
	s := &recordingSender{}
	// codes and names are interchangeable
	n := New("https://hacpai.com", []string{"2", "QNA"}, s)

	for _, typ := range []ItemType{TypeCityBroadcast, TypeQnA} {
		if err := n.Notify(context.Background(), ContentItem{Type: typ}); !errors.Is(err, ErrExcluded) {
			t.Errorf("%s: got %v, want ErrExcluded", typ, err)
		}
	}
	if err := n.Notify(context.Background(), ContentItem{Title: "t", Type: TypeThought, Permalink: "/p"}); err != nil {
		t.Errorf("thought no longer excluded: %v", err)
	}
	if len(s.sent) != 1 {
		t.Errorf("sends: got %d, want 1", len(s.sent))
	}

	empty := New("https://hacpai.com", []string{}, &recordingSender{})
	if !empty.Notifiable(ContentItem{Type: TypeDiscussion}) {
		t.Error("an empty exclusion list should announce everything")
	}
}

func TestNotify_SendErrorIsReturned(t *testing.T) {
	boom := errors.New("not connected")
	n := New("https://hacpai.com", nil, &recordingSender{err: boom})
	err := n.Notify(context.Background(), ContentItem{ID: "9", Type: TypeNormal})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}

func TestContentItem_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ContentItem
	}{
		{
			"numeric fields",
			`{"id": 1480000000001, "title": "Hello", "type": 3, "permalink": "/article/1480000000001"}`,
			ContentItem{ID: "1480000000001", Title: "Hello", Type: TypeThought, Permalink: "/article/1480000000001"},
		},
		{
			"string fields",
			`{"id": "a1", "title": "Hello", "type": "Discussion", "permalink": "/a1"}`,
			ContentItem{ID: "a1", Title: "Hello", Type: TypeDiscussion, Permalink: "/a1"},
		},
		{
			"missing type",
			`{"id": "a2", "title": "Hi", "permalink": "/a2"}`,
			ContentItem{ID: "a2", Title: "Hi", Permalink: "/a2"},
		},
		{
			"unknown code",
			`{"id": "a3", "type": 4}`,
			ContentItem{ID: "a3", Type: "type_4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ContentItem
			if err := json.Unmarshal([]byte(tt.data), &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	var bad ContentItem
	if err := json.Unmarshal([]byte(`{"type": [1]}`), &bad); err == nil {
		t.Error("expected an error for an array type")
	}
}

func TestParseItemType(t *testing.T) {
	tests := []struct {
		in   string
		want ItemType
	}{
		{"0", TypeNormal},
		{"", TypeNormal},
		{"1", TypeDiscussion},
		{" thought ", TypeThought},
		{"5", TypeQnA},
		{"CITY_BROADCAST", TypeCityBroadcast},
	}
	for _, tt := range tests {
		if got := ParseItemType(tt.in); got != tt.want {
			t.Errorf("ParseItemType(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
