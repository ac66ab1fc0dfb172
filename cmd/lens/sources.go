package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/lens"
	lensconsul "github.com/zoobzio/lens/pkg/consul"
	lensetcd "github.com/zoobzio/lens/pkg/etcd"
	lensfile "github.com/zoobzio/lens/pkg/file"
	lensfirestore "github.com/zoobzio/lens/pkg/firestore"
	lensk8s "github.com/zoobzio/lens/pkg/kubernetes"
	lensnats "github.com/zoobzio/lens/pkg/nats"
	lenspostgres "github.com/zoobzio/lens/pkg/postgres"
	lensredis "github.com/zoobzio/lens/pkg/redis"
	lensws "github.com/zoobzio/lens/pkg/websocket"
	lenszk "github.com/zoobzio/lens/pkg/zookeeper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const dialTimeout = 10 * time.Second

// closer releases a backend client.
type closer func() error

func nopCloser() error { return nil }

// openSource connects to the configured backend and returns a session that
// every grid shares.
func openSource(ctx context.Context, cfg SourceConfig) (lens.Session, closer, error) {
	switch cfg.Kind {
	case "file":
		return lensfile.New(cfg.Addr), nopCloser, nil

	case "ws":
		return lensws.New(cfg.Addr), nopCloser, nil

	case "nats":
		nc, err := nats.Connect(cfg.Addr, nats.Timeout(dialTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create jetstream: %w", err)
		}
		return lensnats.New(js), func() error { nc.Close(); return nil }, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			opts = &redis.Options{Addr: cfg.Addr}
		}
		client := redis.NewClient(opts)
		return lensredis.New(client, lensredis.WithDB(opts.DB)), client.Close, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return lenspostgres.New(pool), func() error { pool.Close(); return nil }, nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(cfg.Addr, ","),
			DialTimeout: dialTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return lensetcd.New(client), client.Close, nil

	case "consul":
		client, err := api.NewClient(&api.Config{Address: cfg.Addr})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create consul client: %w", err)
		}
		return lensconsul.New(client), nopCloser, nil

	case "zookeeper":
		conn, _, err := zk.Connect(strings.Split(cfg.Addr, ","), dialTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
		}
		return lenszk.New(conn), func() error { conn.Close(); return nil }, nil

	case "kubernetes":
		restConfig, err := kubeConfig(cfg.Addr)
		if err != nil {
			return nil, nil, err
		}
		client, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		namespace := cfg.Namespace
		if namespace == "" {
			namespace = "default"
		}
		return lensk8s.New(client, namespace), nopCloser, nil

	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		return lensfirestore.New(client), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", cfg.Kind)
}

// kubeConfig uses the kubeconfig at path, or the in-cluster config when path
// is empty.
func kubeConfig(path string) (*rest.Config, error) {
	if path == "" {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg, nil
}
