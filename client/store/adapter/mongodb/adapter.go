// Package mongodb is a document store adapter for MongoDB. Change
// subscriptions are built on change streams: a stream event triggers a
// re-run of the subscribed query so that every delivery carries the
// complete current result set. Change streams require the server to run
// as a replica set.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/adapter"
	t "github.com/letschat/letschat/client/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapterMongo holds MongoDB connection data.
type adapterMongo struct {
	conn   *mdb.Client
	db     *mdb.Database
	dbName string
	ctx    context.Context
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "letschat"

	adapterName = "mongodb"
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      any `json:"addresses,omitempty"`
	ConnectTimeout int `json:"timeout,omitempty"`

	// Options separate from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes the mongodb session.
func (a *adapterMongo) Open(jsonconf json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("adapter mongodb failed to parse config: " + err.Error())
	}

	var opts mdbopts.ClientOptions

	if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if hosts, ok := config.Addresses.([]string); ok {
		opts.SetHosts(hosts)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		return err
	}
	a.db = a.conn.Database(a.dbName)

	return nil
}

// Close the adapter.
func (a *adapterMongo) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use.
func (a *adapterMongo) IsOpen() bool {
	return a.conn != nil
}

// GetName returns the name of the adapter.
func (a *adapterMongo) GetName() string {
	return adapterName
}

// normalize rewrites driver-specific bson values into plain Go values
// so documents look the same regardless of the backing adapter.
func normalize(v any) any {
	switch val := v.(type) {
	case b.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case b.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = normalize(e)
		}
		return m
	case b.A:
		arr := make([]any, len(val))
		for i, e := range val {
			arr[i] = normalize(e)
		}
		return arr
	case primitive.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	default:
		return v
	}
}

func docFromBson(raw b.M) adapter.Doc {
	var doc adapter.Doc
	if id, ok := raw["_id"].(string); ok {
		doc.Id = id
	}
	delete(raw, "_id")
	doc.Data = normalize(raw).(map[string]any)
	return doc
}

func mongoFilter(f adapter.Filter) b.M {
	if f.IsZero() {
		return b.M{}
	}
	switch f.Op {
	case adapter.OpEq:
		return b.M{f.Field: f.Value}
	case adapter.OpAnd, adapter.OpOr:
		sub := make(b.A, len(f.Sub))
		for i, s := range f.Sub {
			sub[i] = mongoFilter(s)
		}
		if f.Op == adapter.OpAnd {
			return b.M{"$and": sub}
		}
		return b.M{"$or": sub}
	}
	return b.M{}
}

// Get reads a single document.
func (a *adapterMongo) Get(ctx context.Context, coll, id string) (*adapter.Doc, error) {
	var raw b.M
	err := a.db.Collection(coll).FindOne(ctx, b.M{"_id": id}).Decode(&raw)
	if err == mdb.ErrNoDocuments {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc := docFromBson(raw)
	return &doc, nil
}

// Query returns all documents in coll matching the filter.
func (a *adapterMongo) Query(ctx context.Context, coll string, filter adapter.Filter) ([]adapter.Doc, error) {
	cur, err := a.db.Collection(coll).Find(ctx, mongoFilter(filter))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []adapter.Doc
	for cur.Next(ctx) {
		var raw b.M
		if err = cur.Decode(&raw); err != nil {
			return nil, err
		}
		result = append(result, docFromBson(raw))
	}
	return result, cur.Err()
}

// Set creates or updates a document.
func (a *adapterMongo) Set(ctx context.Context, coll, id string, data map[string]any, merge bool) error {
	var err error
	if merge {
		_, err = a.db.Collection(coll).UpdateOne(ctx, b.M{"_id": id},
			b.M{"$set": data}, mdbopts.Update().SetUpsert(true))
	} else {
		_, err = a.db.Collection(coll).ReplaceOne(ctx, b.M{"_id": id},
			data, mdbopts.Replace().SetUpsert(true))
	}
	return err
}

// Create writes a document only if it does not exist yet.
func (a *adapterMongo) Create(ctx context.Context, coll, id string, data map[string]any) error {
	ins := make(b.M, len(data)+1)
	for k, v := range data {
		ins[k] = v
	}
	ins["_id"] = id
	_, err := a.db.Collection(coll).InsertOne(ctx, ins)
	if mdb.IsDuplicateKeyError(err) {
		return t.ErrDuplicate
	}
	return err
}

func (a *adapterMongo) watch(ctx context.Context, coll string, requery func(context.Context) ([]adapter.Doc, error)) (*adapter.Subscription, error) {
	if !a.IsOpen() {
		return nil, t.ErrInternal
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan adapter.Snapshot, 8)

	go func() {
		defer close(ch)

		deliver := func() bool {
			docs, err := requery(subCtx)
			if subCtx.Err() != nil {
				return false
			}
			snap := adapter.Snapshot{Docs: docs, Err: err}
			select {
			case <-subCtx.Done():
				return false
			case ch <- snap:
				return true
			}
		}

		// Initial snapshot.
		if !deliver() {
			return
		}

		for subCtx.Err() == nil {
			stream, err := a.db.Collection(coll).Watch(subCtx, mdb.Pipeline{})
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				// Report once, then retry the stream after a pause.
				select {
				case <-subCtx.Done():
					return
				case ch <- adapter.Snapshot{Err: err}:
				}
				select {
				case <-subCtx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}

			for stream.Next(subCtx) {
				if !deliver() {
					stream.Close(context.Background())
					return
				}
			}
			stream.Close(context.Background())
		}
	}()

	return adapter.NewSubscription(ch, cancel), nil
}

// Subscribe opens a change stream over the filtered collection.
func (a *adapterMongo) Subscribe(ctx context.Context, coll string, filter adapter.Filter) (*adapter.Subscription, error) {
	return a.watch(ctx, coll, func(qctx context.Context) ([]adapter.Doc, error) {
		return a.Query(qctx, coll, filter)
	})
}

// WatchDoc opens a change stream over a single document.
func (a *adapterMongo) WatchDoc(ctx context.Context, coll, id string) (*adapter.Subscription, error) {
	return a.watch(ctx, coll, func(qctx context.Context) ([]adapter.Doc, error) {
		doc, err := a.Get(qctx, coll, id)
		if err == t.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []adapter.Doc{*doc}, nil
	})
}

func init() {
	store.RegisterAdapter(&adapterMongo{})
}
