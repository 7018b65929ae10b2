package certs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/inflight"
	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/runner"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWebRoot        = "/var/www/html"
	DefaultLiveDir        = "/etc/letsencrypt/live"
	DefaultRenewBefore    = 30 * 24 * time.Hour
	DefaultCommandTimeout = 5 * time.Minute

	certFile = "fullchain.pem"
	keyFile  = "privkey.pem"
)

var (
	notAfterRE    = regexp.MustCompile(`notAfter=(.+)`)
	expiryLayouts = []string{
		"Jan _2 15:04:05 2006 MST",
		time.RFC1123,
		time.RFC3339,
	}
)

type Config struct {
	CertbotPath string
	OpenSSLPath string
	WebRoot     string
	LiveDir     string
	// ContactEmail is passed to the ACME account. Empty means admin@ the registrable part of each name.
	ContactEmail   string
	Staging        bool
	RenewBefore    time.Duration
	CommandTimeout time.Duration
}

// Store is the part of the record store the certificate manager reads and writes.
type Store interface {
	GetSubdomainByName(name string) (db.Subdomain, error)
	ListSubdomainsBySSLStatus(status model.SSLStatus) ([]db.Subdomain, error)
	UpdateSubdomainStatus(id uint, status db.SubdomainStatus) error
}

type Configurator interface {
	Configure(ctx context.Context, name, certPath, keyPath string) error
}

type SweepResult struct {
	Renewed int
	Failed  int
	Skipped []string
}

type Manager struct {
	cfg      Config
	runner   runner.Runner
	store    Store
	proxy    Configurator
	inflight *inflight.Registry
	log      *logrus.Entry
	now      func() time.Time
}

func New(cfg Config, r runner.Runner, store Store, proxy Configurator, registry *inflight.Registry, log *logrus.Entry) *Manager {
	if cfg.CertbotPath == "" {
		cfg.CertbotPath = "certbot"
	}
	if cfg.OpenSSLPath == "" {
		cfg.OpenSSLPath = "openssl"
	}
	if cfg.WebRoot == "" {
		cfg.WebRoot = DefaultWebRoot
	}
	if cfg.LiveDir == "" {
		cfg.LiveDir = DefaultLiveDir
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = DefaultRenewBefore
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Manager{
		cfg:      cfg,
		runner:   r,
		store:    store,
		proxy:    proxy,
		inflight: registry,
		log:      log,
		now:      time.Now,
	}
}

// Paths returns where certbot leaves the certificate chain and key for name.
func (m *Manager) Paths(name string) (certPath, keyPath string) {
	dir := filepath.Join(m.cfg.LiveDir, name)
	return filepath.Join(dir, certFile), filepath.Join(dir, keyFile)
}

// Issue obtains a certificate for name and activates it in the reverse proxy.
// The caller is expected to hold the pipeline lock for name.
func (m *Manager) Issue(ctx context.Context, name string) (err error) {
	sub, err := m.store.GetSubdomainByName(name)
	if err != nil {
		return err
	}
	defer func() {
		metrics.CertificateOperations.WithLabelValues("issue", metrics.Result(err)).Inc()
	}()

	log := m.log.WithField("subdomain", name)
	if err := m.setStatus(sub.ID, model.SSLStatusPending, nil); err != nil {
		return err
	}

	expiry, err := m.obtain(ctx, name)
	if err != nil {
		log.Errorf("certificate issuance failed: %v", err)
		m.markError(sub.ID, log)
		return err
	}

	if err := m.setStatus(sub.ID, model.SSLStatusValid, &expiry); err != nil {
		return err
	}
	log.Infof("certificate issued, expires %v", expiry.Format(time.RFC3339))

	m.activate(ctx, name, log)
	return nil
}

// RenewSweep renews every valid certificate that expires within the renewal window.
// Names with a pipeline in progress are skipped. One failure does not stop the sweep.
func (m *Manager) RenewSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	subs, err := m.store.ListSubdomainsBySSLStatus(model.SSLStatusValid)
	if err != nil {
		return result, err
	}

	cutoff := m.now().Add(m.cfg.RenewBefore)
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if sub.SSLExpiryDate == nil || !sub.SSLExpiryDate.Before(cutoff) {
			continue
		}

		release, ok := m.inflight.TryAcquire(sub.Name)
		if !ok {
			m.log.Infof("skipping renewal of %s, another operation is in progress", sub.Name)
			result.Skipped = append(result.Skipped, sub.Name)
			continue
		}

		err := m.renew(ctx, sub)
		release()
		metrics.CertificateOperations.WithLabelValues("renew", metrics.Result(err)).Inc()
		if err != nil {
			result.Failed++
			continue
		}
		result.Renewed++
	}

	m.log.Infof("renewal sweep finished: renewed %d, failed %d, skipped %d", result.Renewed, result.Failed, len(result.Skipped))
	return result, nil
}

func (m *Manager) renew(ctx context.Context, sub db.Subdomain) error {
	log := m.log.WithField("subdomain", sub.Name)

	expiry, err := m.renewAndRead(ctx, sub.Name)
	if err != nil {
		log.Errorf("certificate renewal failed: %v", err)
		m.markError(sub.ID, log)
		return err
	}

	if err := m.setStatus(sub.ID, model.SSLStatusValid, &expiry); err != nil {
		log.Errorf("unable to record renewed certificate: %v", err)
		return err
	}
	log.Infof("certificate renewed, expires %v", expiry.Format(time.RFC3339))

	m.activate(ctx, sub.Name, log)
	return nil
}

func (m *Manager) obtain(ctx context.Context, name string) (time.Time, error) {
	args := []string{
		"certonly", "--webroot",
		"-w", m.cfg.WebRoot,
		"-d", name,
		"--non-interactive", "--agree-tos",
		"--email", m.contactEmail(name),
	}
	if m.cfg.Staging {
		args = append(args, "--staging")
	}
	if _, err := m.run(ctx, m.cfg.CertbotPath, args...); err != nil {
		return time.Time{}, err
	}

	certPath, keyPath := m.Paths(name)
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			return time.Time{}, fmt.Errorf("%w: certbot succeeded but %s is missing: %v", model.ErrToolFailure, p, err)
		}
	}
	return m.readExpiry(ctx, certPath)
}

func (m *Manager) renewAndRead(ctx context.Context, name string) (time.Time, error) {
	if _, err := m.run(ctx, m.cfg.CertbotPath, "renew", "--cert-name", name, "--non-interactive"); err != nil {
		return time.Time{}, err
	}

	certPath, _ := m.Paths(name)
	if _, err := os.Stat(certPath); err != nil {
		return time.Time{}, fmt.Errorf("%w: renewed certificate %s is missing: %v", model.ErrToolFailure, certPath, err)
	}
	return m.readExpiry(ctx, certPath)
}

func (m *Manager) readExpiry(ctx context.Context, certPath string) (time.Time, error) {
	res, err := m.run(ctx, m.cfg.OpenSSLPath, "x509", "-in", certPath, "-noout", "-enddate")
	if err != nil {
		return time.Time{}, err
	}
	return ParseExpiry(res.Stdout)
}

// run executes a command under the command timeout. Failing to run, timing out and
// a non-zero exit all come back as errors.
func (m *Manager) run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	res, err := m.runner.Run(ctx, name, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: %s after %v", model.ErrTimeout, name, m.cfg.CommandTimeout)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", model.ErrToolFailure, name, err)
	}
	if !res.Success() {
		return res, fmt.Errorf("%w: %s exited %d: %s", model.ErrToolFailure, name, res.ExitCode, res.Output())
	}
	return res, nil
}

func (m *Manager) activate(ctx context.Context, name string, log *logrus.Entry) {
	if m.proxy == nil {
		return
	}
	certPath, keyPath := m.Paths(name)
	if err := m.proxy.Configure(ctx, name, certPath, keyPath); err != nil {
		log.Errorf("certificate is valid but the reverse proxy could not be configured: %v", err)
	}
}

func (m *Manager) setStatus(id uint, status model.SSLStatus, expiry *time.Time) error {
	return m.store.UpdateSubdomainStatus(id, db.SubdomainStatus{
		SSLStatus:     &status,
		SSLExpiryDate: expiry,
	})
}

func (m *Manager) markError(id uint, log *logrus.Entry) {
	if err := m.setStatus(id, model.SSLStatusError, nil); err != nil {
		log.Errorf("unable to record certificate error status: %v", err)
	}
}

func (m *Manager) contactEmail(name string) string {
	if m.cfg.ContactEmail != "" {
		return m.cfg.ContactEmail
	}
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	return "admin@" + strings.Join(labels, ".")
}

// ParseExpiry extracts the notAfter date from `openssl x509 -enddate` output.
func ParseExpiry(out string) (time.Time, error) {
	match := notAfterRE.FindStringSubmatch(out)
	if match == nil {
		return time.Time{}, fmt.Errorf("%w: no notAfter in %q", model.ErrParseFailure, strings.TrimSpace(out))
	}

	value := strings.TrimSpace(match[1])
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", model.ErrParseFailure, value)
}
