// Package certs builds the client TLS context used for mutual-TLS calls to
// institutions. Parsing certificate material is expensive, so the context is
// built once and shared; the resulting *tls.Config is safe for concurrent
// read-only use.
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/crypto/pkcs12"
)

// Config selects one of three mutually exclusive certificate sources, tried
// in priority order: remote blob storage, local PKCS#12 keystore, local PEM
// files. When none is configured the provisioner yields a context with no
// client identity.
type Config struct {
	// Remote blob storage source (PEM objects in a bucket).
	Bucket     string
	CertObject string
	KeyObject  string
	CAObject   string

	// Local PKCS#12 keystore source.
	KeystorePath     string
	KeystorePassword string

	// Local PEM file source.
	CertPath string
	KeyPath  string
	CAPath   string
}

// Provisioner lazily builds and caches the client TLS context.
type Provisioner struct {
	cfg Config

	once      sync.Once
	tlsConfig *tls.Config
	err       error
}

// NewProvisioner creates a provisioner. Construct once per process and share.
func NewProvisioner(cfg Config) *Provisioner {
	return &Provisioner{cfg: cfg}
}

// ClientTLSConfig returns the shared TLS context, building it on first use.
// Construction is synchronized; subsequent calls are lock-free reads.
func (p *Provisioner) ClientTLSConfig(ctx context.Context) (*tls.Config, error) {
	p.once.Do(func() {
		p.tlsConfig, p.err = p.build(ctx)
	})
	return p.tlsConfig, p.err
}

func (p *Provisioner) build(ctx context.Context) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	var certPEM, keyPEM, caPEM []byte

	switch {
	case p.cfg.Bucket != "":
		var err error
		certPEM, keyPEM, caPEM, err = p.fetchFromBucket(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificates from bucket %s: %w", p.cfg.Bucket, err)
		}
		log.Printf("Certificate provisioner: loaded client identity from bucket %s", p.cfg.Bucket)

	case p.cfg.KeystorePath != "":
		cert, err := loadKeystore(p.cfg.KeystorePath, p.cfg.KeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load PKCS#12 keystore: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		log.Printf("Certificate provisioner: loaded client identity from keystore %s", p.cfg.KeystorePath)
		if p.cfg.CAPath != "" {
			caPEM, err = os.ReadFile(p.cfg.CAPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		}

	case p.cfg.CertPath != "" && p.cfg.KeyPath != "":
		var err error
		certPEM, err = os.ReadFile(p.cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client certificate: %w", err)
		}
		keyPEM, err = os.ReadFile(p.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client key: %w", err)
		}
		if p.cfg.CAPath != "" {
			caPEM, err = os.ReadFile(p.cfg.CAPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		}
		log.Printf("Certificate provisioner: loaded client identity from PEM files")

	default:
		log.Println("Certificate provisioner: no certificate source configured, mTLS calls will have no client identity")
		return cfg, nil
	}

	if certPEM != nil {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if caPEM != nil {
		// Pinned trust: the configured CA replaces the system trust store.
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid CA certificates found in trust material")
		}
		cfg.RootCAs = pool
	} else {
		log.Println("Certificate provisioner: no CA material configured, falling back to system trust store")
	}

	return cfg, nil
}

// fetchFromBucket reads PEM objects from remote blob storage.
func (p *Provisioner) fetchFromBucket(ctx context.Context) (certPEM, keyPEM, caPEM []byte, err error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	bucket := client.Bucket(p.cfg.Bucket)

	certPEM, err = readObject(ctx, bucket, p.cfg.CertObject)
	if err != nil {
		return nil, nil, nil, err
	}
	keyPEM, err = readObject(ctx, bucket, p.cfg.KeyObject)
	if err != nil {
		return nil, nil, nil, err
	}
	if p.cfg.CAObject != "" {
		caPEM, err = readObject(ctx, bucket, p.cfg.CAObject)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return certPEM, keyPEM, caPEM, nil
}

func readObject(ctx context.Context, bucket *storage.BucketHandle, name string) ([]byte, error) {
	r, err := bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return data, nil
}

// loadKeystore decodes a PKCS#12 keystore into a TLS client certificate.
func loadKeystore(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read keystore: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode keystore: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
