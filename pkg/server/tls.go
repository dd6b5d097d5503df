package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flagwise/flagwise/pkg/config"
)

// certReloader serves the TLS certificate and re-reads it from disk when
// the files change, so renewed certificates take effect without a restart.
type certReloader struct {
	certFile string
	keyFile  string
	interval time.Duration

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

func newCertReloader(cfg *config.TLSConfig) *certReloader {
	return &certReloader{
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		interval: cfg.ReloadInterval,
	}
}

// start loads the initial certificate and begins the reload loop. The loop
// stops when ctx is cancelled.
func (r *certReloader) start(ctx context.Context) error {
	if err := r.reload(); err != nil {
		return err
	}

	if r.interval > 0 {
		go r.reloadLoop(ctx)
	}

	return nil
}

func (r *certReloader) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.reload(); err != nil {
				slog.Error("certificate reload failed",
					"error", err,
					"cert_file", r.certFile,
				)
				continue
			}
			slog.Info("certificate reloaded", "cert_file", r.certFile)
		}
	}
}

// changed reports whether either file has been modified since the last load.
func (r *certReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

func (r *certReloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	if err := validateCertificate(&cert); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()

	return nil
}

// getCertificate is compatible with tls.Config.GetCertificate.
func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, fmt.Errorf("no certificate loaded")
	}
	return r.cert, nil
}

// validateCertificate rejects expired or not-yet-valid certificates.
func validateCertificate(cert *tls.Certificate) error {
	if cert == nil || len(cert.Certificate) == 0 {
		return fmt.Errorf("certificate chain is empty")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("certificate not valid until %s", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}

	if daysLeft := int(leaf.NotAfter.Sub(now).Hours() / 24); daysLeft < 30 {
		slog.Warn("certificate expiring soon",
			"subject", leaf.Subject.CommonName,
			"expires_in_days", daysLeft,
			"expires_at", leaf.NotAfter.Format(time.RFC3339),
		)
	}

	return nil
}

// buildTLSConfig assembles the listener's tls.Config from configuration and
// starts certificate reloading. Returns nil when TLS is disabled.
func buildTLSConfig(ctx context.Context, cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	reloader := newCertReloader(cfg)
	if err := reloader.start(ctx); err != nil {
		return nil, err
	}

	minVersion := uint16(tls.VersionTLS13)
	if cfg.MinVersion == "1.2" {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		GetCertificate: reloader.getCertificate,
		MinVersion:     minVersion,
	}, nil
}
