// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultLimit is the page size when the caller does not ask for one.
const DefaultLimit = 50

// MaxLimit caps caller-requested page sizes.
const MaxLimit = 200

// Request is a forward keyset page request: rows strictly after the
// After cursor, at most Limit of them.
type Request struct {
	After string
	Limit int
}

// Parse reads ?after= and ?limit= from r. A missing or invalid limit is
// DefaultLimit; a larger one is clamped to MaxLimit.
func Parse(r *http.Request) Request {
	p := Request{After: query.Get(r, "after"), Limit: DefaultLimit}
	if s := query.Get(r, "limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			p.Limit = n
		}
	}
	return p.clamp()
}

func (p Request) clamp() Request {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Window returns the filter selecting rows after the cursor on
// (sortField, _id), or an empty filter for the first page. An undecodable
// cursor also yields the first page.
func (p Request) Window(sortField string) bson.M {
	if p.After == "" {
		return bson.M{}
	}
	c, ok := wafflemongo.DecodeCursor(p.After)
	if !ok {
		return bson.M{}
	}
	return wafflemongo.KeysetWindow(sortField, "gt", c.CI, c.ID)
}

// FindOptions sorts on (sortField, _id) and fetches one row more than the
// page so Trim can tell whether another page exists.
func (p Request) FindOptions(sortField string) *options.FindOptions {
	p = p.clamp()
	return options.Find().
		SetSort(bson.D{{Key: sortField, Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(p.Limit + 1))
}

// Page is one page of rows. Next is empty on the last page.
type Page[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next,omitempty"`
}

// Trim cuts rows fetched with FindOptions down to the page and builds the
// cursor for the following one. key extracts the sort key and id.
func Trim[T any](rows []T, p Request, key func(T) (string, primitive.ObjectID)) Page[T] {
	p = p.clamp()
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= p.Limit {
		return Page[T]{Items: rows}
	}
	rows = rows[:p.Limit]
	ci, id := key(rows[len(rows)-1])
	return Page[T]{Items: rows, Next: wafflemongo.EncodeCursor(ci, id)}
}
