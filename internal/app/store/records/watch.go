package records

import (
	"context"
	"errors"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// errStreamEnded reports a change stream the server closed, for example
// after the collection was dropped.
var errStreamEnded = errors.New("change stream ended")

type changeDoc[R any] struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	DocumentKey   struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *R `bson:"fullDocument"`
}

// Watch opens a change stream on the collection. Updates are delivered
// with the full post-change document. Requires a replica set.
func (s *Store[R]) Watch(ctx context.Context) (changefeed.Stream[R], error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	cs, err := s.c.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, apperr.Store("watch", s.name, err)
	}
	return &stream[R]{cs: cs, name: s.name}, nil
}

type stream[R any] struct {
	cs   *mongo.ChangeStream
	name string
}

func (st *stream[R]) Next(ctx context.Context) (changefeed.Event[R], error) {
	for {
		if !st.cs.Next(ctx) {
			if err := st.cs.Err(); err != nil {
				return changefeed.Event[R]{}, err
			}
			if err := ctx.Err(); err != nil {
				return changefeed.Event[R]{}, err
			}
			return changefeed.Event[R]{}, errStreamEnded
		}

		var doc changeDoc[R]
		if err := st.cs.Decode(&doc); err != nil {
			return changefeed.Event[R]{}, err
		}
		ev := changefeed.Event[R]{
			Collection: st.name,
			ID:         doc.DocumentKey.ID.Hex(),
			Seq:        Seq(&doc.ClusterTime),
		}
		switch doc.OperationType {
		case "insert":
			ev.Op = changefeed.OpInsert
		case "update", "replace":
			ev.Op = changefeed.OpUpdate
		case "delete":
			ev.Op = changefeed.OpDelete
		default:
			continue
		}
		if ev.Op != changefeed.OpDelete {
			// The document was deleted before the lookup ran; its delete
			// event follows.
			if doc.FullDocument == nil {
				continue
			}
			ev.Record = *doc.FullDocument
		}
		return ev, nil
	}
}

func (st *stream[R]) Close(ctx context.Context) error {
	return st.cs.Close(ctx)
}
