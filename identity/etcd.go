package identity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdConfig configures an EtcdLocker.
type EtcdConfig struct {
	// Endpoints is the list of etcd endpoints.
	// Format: ["host1:2379", "host2:2379"]
	Endpoints []string `yaml:"endpoints"`

	// Prefix is the key prefix of the lock keys. Default: "/tmapi/locks/".
	Prefix string `yaml:"prefix"`

	// TTL is the session lease in seconds. Locks held by a crashed
	// process are released after TTL. Default: 10.
	TTL int `yaml:"ttl"`

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// TLS configures client certificates.
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds the client certificate files for etcd.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// ClientConfig loads the certificates into a tls.Config.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	if c.CertFile == "" {
		return nil, fmt.Errorf("TLS cert file is required when TLS is enabled")
	}
	if c.KeyFile == "" {
		return nil, fmt.Errorf("TLS key file is required when TLS is enabled")
	}
	if c.CAFile == "" {
		return nil, fmt.Errorf("TLS CA file is required when TLS is enabled")
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	caData, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// EtcdLocker is a Locker backed by etcd mutexes, for processes sharing a
// Redis or SQLite store.
//
// All mutexes of a process share one session and therefore one etcd owner
// key, so etcd alone cannot exclude goroutines of the same process. A
// LocalLocker slot for the key is held around the etcd mutex for that.
type EtcdLocker struct {
	client  *clientv3.Client
	session *concurrency.Session
	local   *LocalLocker
	prefix  string
	logger  *slog.Logger
}

// NewEtcdLocker connects to etcd and opens a lease-backed session.
func NewEtcdLocker(cfg EtcdConfig, logger *slog.Logger) (*EtcdLocker, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/tmapi/locks/"
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	}
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsCfg

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(cfg.TTL))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	return &EtcdLocker{
		client:  cli,
		session: session,
		local:   NewLocalLocker(),
		prefix:  cfg.Prefix,
		logger:  logger,
	}, nil
}

// Lock implements Locker.
func (l *EtcdLocker) Lock(ctx context.Context, key string) (func(), error) {
	release, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	mu := concurrency.NewMutex(l.session, l.prefix+key)
	if err := mu.Lock(ctx); err != nil {
		release()
		return nil, fmt.Errorf("etcd lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			defer release()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mu.Unlock(ctx); err != nil {
				l.logger.Error("etcd unlock failed", "key", key, "error", err)
			}
		})
	}, nil
}

// Close ends the session, releasing held locks, and closes the client.
func (l *EtcdLocker) Close() error {
	serr := l.session.Close()
	cerr := l.client.Close()
	if serr != nil {
		return serr
	}
	return cerr
}
