package paging

import (
	"net/http/httptest"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParse(t *testing.T) {
	tests := []struct {
		url       string
		wantLimit int
		wantAfter string
	}{
		{"/admin/users", DefaultLimit, ""},
		{"/admin/users?limit=10", 10, ""},
		{"/admin/users?limit=0", DefaultLimit, ""},
		{"/admin/users?limit=-3", DefaultLimit, ""},
		{"/admin/users?limit=abc", DefaultLimit, ""},
		{"/admin/users?limit=5000", MaxLimit, ""},
		{"/admin/users?after=xyz&limit=2", 2, "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := Parse(httptest.NewRequest("GET", tt.url, nil))
			if got.Limit != tt.wantLimit {
				t.Errorf("Limit: got %d, want %d", got.Limit, tt.wantLimit)
			}
			if got.After != tt.wantAfter {
				t.Errorf("After: got %q, want %q", got.After, tt.wantAfter)
			}
		})
	}
}

type row struct {
	Key string
	ID  primitive.ObjectID
}

func rowKey(r row) (string, primitive.ObjectID) { return r.Key, r.ID }

func TestTrim(t *testing.T) {
	rows := []row{{"a", primitive.NewObjectID()}, {"b", primitive.NewObjectID()}, {"c", primitive.NewObjectID()}}

	t.Run("more rows than the page", func(t *testing.T) {
		page := Trim(append([]row(nil), rows...), Request{Limit: 2}, rowKey)
		if len(page.Items) != 2 {
			t.Fatalf("Items: got %d, want 2", len(page.Items))
		}
		if page.Next == "" {
			t.Error("expected a next cursor")
		}
		// The cursor resumes after the last row shown.
		w := Request{After: page.Next}.Window("email_ci")
		if len(w) == 0 {
			t.Errorf("Window from next cursor: got empty filter")
		}
	})

	t.Run("last page", func(t *testing.T) {
		page := Trim(append([]row(nil), rows...), Request{Limit: 3}, rowKey)
		if len(page.Items) != 3 || page.Next != "" {
			t.Errorf("got %d items, next %q; want 3 and none", len(page.Items), page.Next)
		}
	})

	t.Run("nil rows", func(t *testing.T) {
		page := Trim[row](nil, Request{}, rowKey)
		if page.Items == nil || len(page.Items) != 0 {
			t.Errorf("Items: got %#v, want empty slice", page.Items)
		}
	})
}

func TestWindow_FirstPage(t *testing.T) {
	if w := (Request{}).Window("email_ci"); len(w) != 0 {
		t.Errorf("first page: got %v, want empty filter", w)
	}
	if w := (Request{After: "not-a-cursor"}).Window("email_ci"); len(w) != 0 {
		t.Errorf("bad cursor: got %v, want empty filter", w)
	}
}
