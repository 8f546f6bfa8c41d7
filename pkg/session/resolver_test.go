package session

import (
	"errors"
	"testing"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
)

func TestResolve(t *testing.T) {
	groups := []bus.Group{
		{ID: "1", Name: "Go 语言"},
		{ID: "2", Name: "黑客派"},
		{ID: "3", Name: "黑客派"},
		{ID: "4", Name: "go 语言"},
	}

	tests := []struct {
		name    string
		target  string
		want    bus.GroupID
		wantErr error
	}{
		{"first duplicate wins", "黑客派", "2", nil},
		{"case sensitive", "go 语言", "4", nil},
		{"exact match", "Go 语言", "1", nil},
		{"no trimming", " 黑客派", "", ErrGroupNotFound},
		{"not found", "missing", "", ErrGroupNotFound},
		{"empty name", "", "", ErrGroupNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(groups, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("id: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_EmptyList(t *testing.T) {
	if _, err := Resolve(nil, "黑客派"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("got %v, want ErrGroupNotFound", err)
	}
}
