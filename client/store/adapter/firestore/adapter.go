// Package firestore is a document store adapter for Google Cloud
// Firestore. Query snapshot listeners natively deliver the complete
// current result set on every change, which is exactly the
// subscription contract of the adapter interface.
package firestore

import (
	"context"
	"encoding/json"
	"errors"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/adapter"
	t "github.com/letschat/letschat/client/store/types"
)

const adapterName = "firestore"

// adapterFirestore holds the client connection.
type adapterFirestore struct {
	client *fs.Client
}

type configType struct {
	// Google Cloud project id. Optional when the credentials file
	// carries it.
	ProjectId string `json:"project_id,omitempty"`
	// Path to a service account credentials file.
	CredentialsFile string `json:"credentials_file,omitempty"`
	// Inline service account credentials.
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// Open initializes the firestore connection.
func (a *adapterFirestore) Open(jsonconf json.RawMessage) error {
	if a.client != nil {
		return errors.New("adapter firestore is already connected")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("adapter firestore failed to parse config: " + err.Error())
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	} else if len(config.Credentials) > 0 {
		opts = append(opts, option.WithCredentialsJSON(config.Credentials))
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: config.ProjectId}, opts...)
	if err != nil {
		return err
	}

	a.client, err = app.Firestore(ctx)
	return err
}

// Close the adapter.
func (a *adapterFirestore) Close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use.
func (a *adapterFirestore) IsOpen() bool {
	return a.client != nil
}

// GetName returns the name of the adapter.
func (a *adapterFirestore) GetName() string {
	return adapterName
}

func entityFilter(f adapter.Filter) fs.EntityFilter {
	switch f.Op {
	case adapter.OpEq:
		return fs.PropertyFilter{Path: f.Field, Operator: "==", Value: f.Value}
	case adapter.OpAnd, adapter.OpOr:
		sub := make([]fs.EntityFilter, len(f.Sub))
		for i, s := range f.Sub {
			sub[i] = entityFilter(s)
		}
		if f.Op == adapter.OpAnd {
			return fs.AndFilter{Filters: sub}
		}
		return fs.OrFilter{Filters: sub}
	}
	return fs.AndFilter{}
}

func (a *adapterFirestore) query(coll string, filter adapter.Filter) fs.Query {
	q := a.client.Collection(coll).Query
	if !filter.IsZero() {
		q = q.WhereEntity(entityFilter(filter))
	}
	return q
}

func docsFromSnaps(snaps []*fs.DocumentSnapshot) []adapter.Doc {
	var docs []adapter.Doc
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		docs = append(docs, adapter.Doc{Id: snap.Ref.ID, Data: snap.Data()})
	}
	return docs
}

// Get reads a single document.
func (a *adapterFirestore) Get(ctx context.Context, coll, id string) (*adapter.Doc, error) {
	snap, err := a.client.Collection(coll).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &adapter.Doc{Id: snap.Ref.ID, Data: snap.Data()}, nil
}

// Query returns all documents in coll matching the filter.
func (a *adapterFirestore) Query(ctx context.Context, coll string, filter adapter.Filter) ([]adapter.Doc, error) {
	iter := a.query(coll, filter).Documents(ctx)
	defer iter.Stop()

	var result []adapter.Doc
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, adapter.Doc{Id: snap.Ref.ID, Data: snap.Data()})
	}
	return result, nil
}

// Set creates or updates a document.
func (a *adapterFirestore) Set(ctx context.Context, coll, id string, data map[string]any, merge bool) error {
	ref := a.client.Collection(coll).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, data, fs.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	return err
}

// Create writes a document only if it does not exist yet.
func (a *adapterFirestore) Create(ctx context.Context, coll, id string, data map[string]any) error {
	_, err := a.client.Collection(coll).Doc(id).Create(ctx, data)
	if status.Code(err) == codes.AlreadyExists {
		return t.ErrDuplicate
	}
	return err
}

// Subscribe opens a change stream over the filtered collection.
func (a *adapterFirestore) Subscribe(ctx context.Context, coll string, filter adapter.Filter) (*adapter.Subscription, error) {
	if !a.IsOpen() {
		return nil, t.ErrInternal
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan adapter.Snapshot, 8)

	go func() {
		defer close(ch)
		iter := a.query(coll, filter).Snapshots(subCtx)
		defer iter.Stop()

		for {
			qsnap, err := iter.Next()
			if subCtx.Err() != nil {
				return
			}
			var snap adapter.Snapshot
			if err != nil {
				snap.Err = err
			} else if snaps, gerr := qsnap.Documents.GetAll(); gerr != nil {
				snap.Err = gerr
			} else {
				snap.Docs = docsFromSnaps(snaps)
			}
			select {
			case <-subCtx.Done():
				return
			case ch <- snap:
			}
			if err != nil && status.Code(err) != codes.Unavailable {
				// Listener failed terminally.
				return
			}
		}
	}()

	return adapter.NewSubscription(ch, cancel), nil
}

// WatchDoc opens a change stream over a single document.
func (a *adapterFirestore) WatchDoc(ctx context.Context, coll, id string) (*adapter.Subscription, error) {
	if !a.IsOpen() {
		return nil, t.ErrInternal
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan adapter.Snapshot, 8)

	go func() {
		defer close(ch)
		iter := a.client.Collection(coll).Doc(id).Snapshots(subCtx)
		defer iter.Stop()

		for {
			dsnap, err := iter.Next()
			if subCtx.Err() != nil {
				return
			}
			var snap adapter.Snapshot
			if err != nil {
				snap.Err = err
			} else if dsnap.Exists() {
				snap.Docs = []adapter.Doc{{Id: dsnap.Ref.ID, Data: dsnap.Data()}}
			}
			select {
			case <-subCtx.Done():
				return
			case ch <- snap:
			}
			if err != nil && status.Code(err) != codes.Unavailable {
				return
			}
		}
	}()

	return adapter.NewSubscription(ch, cancel), nil
}

func init() {
	store.RegisterAdapter(&adapterFirestore{})
}
