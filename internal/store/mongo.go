package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/description"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDialer connects to a MongoDB deployment and scopes the connection to one database.
type MongoDialer struct {
	URI      string
	Database string
}

// errNoWritableServer is signaled when the deployment loses every server
// that accepts writes without reporting why.
var errNoWritableServer = errors.New("mongo: no writable server in topology")

// Dial connects, verifies the deployment with a ping and wires the driver's
// server monitor to sig.
func (d MongoDialer) Dial(ctx context.Context, sig Signals) (Conn, error) {
	monitor := serverMonitor(sig)

	opts := options.Client().
		ApplyURI(d.URI).
		SetServerMonitor(monitor)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &mongoConn{client: client, db: client.Database(d.Database)}, nil
}

// serverMonitor maps topology changes to lifecycle signals. Single failed
// heartbeats are left to the driver, which retries them and keeps routing to
// healthy members; only losing every writable server is an error, and a
// closed topology is a close.
func serverMonitor(sig Signals) *event.ServerMonitor {
	return &event.ServerMonitor{
		TopologyDescriptionChanged: func(e *event.TopologyDescriptionChangedEvent) {
			if err := topologyFault(e.PreviousDescription, e.NewDescription); err != nil {
				sig.OnError(err)
			}
		},
		TopologyClosed: func(*event.TopologyClosedEvent) {
			sig.OnClose()
		},
	}
}

// topologyFault returns an error when next has lost the writable server prev had.
func topologyFault(prev, next description.Topology) error {
	if !writable(prev) || writable(next) {
		return nil
	}
	for _, s := range next.Servers {
		if s.LastError != nil {
			return fmt.Errorf("%w: %s: %w", errNoWritableServer, s.Addr, s.LastError)
		}
	}
	return errNoWritableServer
}

func writable(t description.Topology) bool {
	for _, s := range t.Servers {
		switch s.Kind {
		case description.Standalone, description.RSPrimary, description.Mongos, description.LoadBalancer:
			return true
		}
	}
	return false
}

type mongoConn struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *mongoConn) Collection(name string) Collection {
	return &mongoCollection{coll: c.db.Collection(name)}
}

func (c *mongoConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoConn) Close(ctx context.Context) error {
	err := c.client.Disconnect(ctx)
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return nil
	}
	return err
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.D) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) Find(ctx context.Context, filter, sort bson.D, limit int64) ([]bson.D, error) {
	if filter == nil {
		filter = bson.D{}
	}
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	docs := []bson.D{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update bson.D) (*UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}, nil
}
