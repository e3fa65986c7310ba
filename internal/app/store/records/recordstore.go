// internal/app/store/records/recordstore.go
package records

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Update when no record has the given id.
var ErrNotFound = errors.New("record not found")

// Store is the authoritative copy of one record collection.
//
// Every call runs in a causally consistent client session so the
// session's operation time can be reported as the commit sequence of the
// read or write. Change events carry the cluster time of their commit in
// the same encoding, which lets the reconciler order fetches, confirmed
// writes and feed events against each other. On a standalone server no
// operation time is reported and the sequence is 0 (unknown).
type Store[R models.Record] struct {
	c    *mongo.Collection
	name string
	log  *zap.Logger
}

// New returns the store for collection name.
func New[R models.Record](db *mongo.Database, name string, logger *zap.Logger) *Store[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[R]{c: db.Collection(name), name: name, log: logger}
}

// Name returns the collection name.
func (s *Store[R]) Name() string { return s.name }

// Seq encodes a cluster time as a sequence number.
func Seq(ts *primitive.Timestamp) uint64 {
	if ts == nil {
		return 0
	}
	return uint64(ts.T)<<32 | uint64(ts.I)
}

func (s *Store[R]) withSession(ctx context.Context, fn func(sc mongo.SessionContext) error) (uint64, error) {
	sess, err := s.c.Database().Client().StartSession(options.Session().SetCausalConsistency(true))
	if err != nil {
		return 0, err
	}
	defer sess.EndSession(context.Background())

	var seq uint64
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := fn(sc); err != nil {
			return err
		}
		seq = Seq(sc.OperationTime())
		return nil
	})
	return seq, err
}

// Query returns every record in insertion (_id) order and the sequence
// the result reflects.
func (s *Store[R]) Query(ctx context.Context) ([]R, uint64, error) {
	var out []R
	seq, err := s.withSession(ctx, func(sc mongo.SessionContext) error {
		cur, err := s.c.Find(sc, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return err
		}
		defer cur.Close(sc)
		return cur.All(sc, &out)
	})
	if err != nil {
		return nil, 0, apperr.Store("query", s.name, err)
	}
	if out == nil {
		out = []R{}
	}
	return out, seq, nil
}

// toSet renders rec as a field document without _id or created_at.
func toSet(rec any) (bson.M, error) {
	raw, err := bson.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	delete(doc, "created_at")
	return doc, nil
}

// Insert stores rec under a new id and returns the stored record.
func (s *Store[R]) Insert(ctx context.Context, rec R) (R, uint64, error) {
	var out R
	doc, err := toSet(rec)
	if err != nil {
		return out, 0, apperr.Store("insert", s.name, err)
	}
	now := time.Now().UTC()
	doc["_id"] = primitive.NewObjectID()
	doc["created_at"] = now
	doc["updated_at"] = now

	var seq uint64
	_, err = s.withSession(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.c.InsertOne(sc, doc); err != nil {
			return err
		}
		seq = Seq(sc.OperationTime())
		return s.c.FindOne(sc, bson.M{"_id": doc["_id"]}).Decode(&out)
	})
	if err != nil {
		return out, 0, apperr.Store("insert", s.name, err)
	}
	s.log.Debug("record inserted", zap.String("collection", s.name), zap.String("id", out.RecordID()))
	return out, seq, nil
}

// Update replaces the fields of the record with rec's id and returns the
// post-image.
func (s *Store[R]) Update(ctx context.Context, rec R) (R, uint64, error) {
	var out R
	id, err := primitive.ObjectIDFromHex(rec.RecordID())
	if err != nil {
		return out, 0, apperr.Store("update", s.name, err)
	}
	doc, err := toSet(rec)
	if err != nil {
		return out, 0, apperr.Store("update", s.name, err)
	}
	doc["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	seq, err := s.withSession(ctx, func(sc mongo.SessionContext) error {
		return s.c.FindOneAndUpdate(sc, bson.M{"_id": id}, bson.M{"$set": doc}, opts).Decode(&out)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return out, 0, apperr.Store("update", s.name, ErrNotFound)
	}
	if err != nil {
		return out, 0, apperr.Store("update", s.name, err)
	}
	return out, seq, nil
}

// Delete removes the record with id. Deleting a missing record succeeds.
func (s *Store[R]) Delete(ctx context.Context, id string) (uint64, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, apperr.Store("delete", s.name, err)
	}
	var n int64
	seq, err := s.withSession(ctx, func(sc mongo.SessionContext) error {
		res, err := s.c.DeleteOne(sc, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		n = res.DeletedCount
		return nil
	})
	if err != nil {
		return 0, apperr.Store("delete", s.name, err)
	}
	if n == 0 {
		s.log.Debug("delete of missing record", zap.String("collection", s.name), zap.String("id", id))
	}
	return seq, nil
}

// Count returns the number of stored records.
func (s *Store[R]) Count(ctx context.Context) (int64, error) {
	n, err := s.c.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, apperr.Store("count", s.name, err)
	}
	return n, nil
}
