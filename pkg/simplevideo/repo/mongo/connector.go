package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/singleflight"
)

// Connector lazily opens one MongoDB client for the lifetime of the process.
// Concurrent first callers share a single connection attempt.
type Connector struct {
	uri      string
	database string

	group  singleflight.Group
	mu     sync.RWMutex
	client *mongo.Client
}

// NewConnector creates a Connector; no connection is made until first use
func NewConnector(uri, database string) *Connector {
	return &Connector{uri: uri, database: database}
}

// Database returns the cached database handle, connecting on first use
func (c *Connector) Database(ctx context.Context) (*mongo.Database, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client != nil {
		return client.Database(c.database), nil
	}

	v, err, _ := c.group.Do("connect", func() (interface{}, error) {
		c.mu.RLock()
		existing := c.client
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ping mongodb: %w", err)
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mongo.Client).Database(c.database), nil
}

// Close disconnects the cached client, if any
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}
