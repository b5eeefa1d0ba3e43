// Package registry provides the etcd-based implementation of the Registry interface.
//
// Each deployment has one key:
//
//	Key:   /script-rpc/{deployment}
//	Value: JSON-encoded Endpoint
//
// Publishing with a TTL attaches a lease kept alive in the background: if the
// backend process dies, the lease expires and the entry disappears, so
// clients never resolve a dead endpoint.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/script-rpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	timeout time.Duration    // per etcd operation
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, timeout: 5 * time.Second}, nil
}

func key(deployment string) string {
	return keyPrefix + deployment
}

// Publish stores ep under the deployment key. ttl <= 0 stores it without a lease.
//
// leaseID stays a local variable: several backends may share one EtcdRegistry.
func (r *EtcdRegistry) Publish(deployment string, ep Endpoint, ttl int64) error {
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if ttl <= 0 {
		_, err = r.client.Put(ctx, key(deployment), string(val))
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, key(deployment), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive this call, so it gets the client's own context.
	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		return err
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes the deployment's endpoint.
func (r *EtcdRegistry) Withdraw(deployment string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err := r.client.Delete(ctx, key(deployment))
	return err
}

// Resolve returns the endpoint currently published for deployment.
func (r *EtcdRegistry) Resolve(deployment string) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, key(deployment))
	if err != nil {
		return Endpoint{}, err
	}
	if len(resp.Kvs) == 0 {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotPublished, deployment)
	}

	var ep Endpoint
	if err := json.Unmarshal(resp.Kvs[0].Value, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("decode endpoint for %s: %w", deployment, err)
	}
	return ep, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
