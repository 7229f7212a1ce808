package workloads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/skiff/workloads/"

// EtcdStore persists workloads in etcd under /skiff/workloads/<ns>/<id>.
type EtcdStore struct {
	client *clientv3.Client
}

func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

func (s *EtcdStore) Close() error { return s.client.Close() }

func key(namespace, id string) string {
	return keyPrefix + namespace + "/" + id
}

func (s *EtcdStore) Put(ctx context.Context, w *Workload) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workload %s: %w", w.ID, err)
	}
	_, err = s.client.Put(ctx, key(w.Namespace, w.ID), string(data))
	return err
}

func (s *EtcdStore) Get(ctx context.Context, namespace, id string) (*Workload, error) {
	resp, err := s.client.Get(ctx, key(namespace, id))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	var w Workload
	if err := json.Unmarshal(resp.Kvs[0].Value, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workload %s: %w", id, err)
	}
	return &w, nil
}

func (s *EtcdStore) List(ctx context.Context, namespace string) ([]*Workload, error) {
	resp, err := s.client.Get(ctx, keyPrefix+namespace+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]*Workload, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var w Workload
		if err := json.Unmarshal(kv.Value, &w); err != nil {
			return nil, fmt.Errorf("unmarshal workload at %s: %w", kv.Key, err)
		}
		out = append(out, &w)
	}
	return out, nil
}

func (s *EtcdStore) Delete(ctx context.Context, namespace, id string) error {
	resp, err := s.client.Delete(ctx, key(namespace, id))
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return ErrNotFound
	}
	return nil
}
