package certs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/inflight"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/runner"
	"github.com/acorn-io/subdomain-manager/pkg/runner/runnertest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeProxy struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeProxy) Configure(_ context.Context, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.err
}

type harness struct {
	manager  *Manager
	runner   *runnertest.Runner
	store    db.Database
	proxy    *fakeProxy
	inflight *inflight.Registry
	liveDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := db.New(context.Background(), "sqlite", filepath.Join(dir, "test.sqlite"), nil)
	require.NoError(t, err)

	h := &harness{
		runner:   runnertest.New(),
		store:    store,
		proxy:    &fakeProxy{},
		inflight: inflight.New(),
		liveDir:  filepath.Join(dir, "live"),
	}
	h.manager = New(Config{
		WebRoot: "/srv/acme",
		LiveDir: h.liveDir,
	}, h.runner, store, h.proxy, h.inflight, logrus.WithField("test", t.Name()))
	h.manager.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) addSubdomain(t *testing.T, name string, status model.SSLStatus, expiry *time.Time) db.Subdomain {
	t.Helper()
	sub := db.Subdomain{Name: name, Domain: "example.com"}
	require.NoError(t, h.store.CreateSubdomain(&sub))
	if status != model.SSLStatusNone {
		require.NoError(t, h.store.UpdateSubdomainStatus(sub.ID, db.SubdomainStatus{SSLStatus: &status, SSLExpiryDate: expiry}))
	}
	return sub
}

// certbot writes the live files for the -d or --cert-name argument, openssl reports notAfter.
func (h *harness) scriptTools(t *testing.T, notAfter time.Time) {
	t.Helper()
	h.runner.Handle("certbot", func(_ string, args []string) (runner.Result, error) {
		var name string
		for i, a := range args {
			if (a == "-d" || a == "--cert-name") && i+1 < len(args) {
				name = args[i+1]
			}
		}
		dir := filepath.Join(h.liveDir, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return runner.Result{}, err
		}
		for _, f := range []string{certFile, keyFile} {
			if err := os.WriteFile(filepath.Join(dir, f), []byte("pem"), 0600); err != nil {
				return runner.Result{}, err
			}
		}
		return runner.Result{Stdout: "Congratulations!"}, nil
	})
	h.runner.Handle("openssl", func(string, []string) (runner.Result, error) {
		return runner.Result{Stdout: "notAfter=" + notAfter.Format("Jan _2 15:04:05 2006 MST") + "\n"}, nil
	})
}

func TestIssue(t *testing.T) {
	h := newHarness(t)
	sub := h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	notAfter := time.Date(2026, time.May, 30, 12, 0, 0, 0, time.UTC)
	h.scriptTools(t, notAfter)

	require.NoError(t, h.manager.Issue(context.Background(), "blog.example.com"))

	got, err := h.store.GetSubdomain(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusValid, got.SSLStatus)
	require.NotNil(t, got.SSLExpiryDate)
	assert.True(t, notAfter.Equal(*got.SSLExpiryDate))
	assert.Equal(t, []string{"blog.example.com"}, h.proxy.names)

	calls := h.runner.CallsTo("certbot")
	require.Len(t, calls, 1)
	assert.Equal(t, "certbot certonly --webroot -w /srv/acme -d blog.example.com --non-interactive --agree-tos --email admin@example.com", calls[0].String())

	certPath, _ := h.manager.Paths("blog.example.com")
	openssl := h.runner.CallsTo("openssl")
	require.Len(t, openssl, 1)
	assert.Equal(t, "openssl x509 -in "+certPath+" -noout -enddate", openssl[0].String())
}

func TestIssueStagingAndContact(t *testing.T) {
	h := newHarness(t)
	h.manager.cfg.Staging = true
	h.manager.cfg.ContactEmail = "ops@example.org"
	h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	h.scriptTools(t, fixedNow.Add(90*24*time.Hour))

	require.NoError(t, h.manager.Issue(context.Background(), "blog.example.com"))

	calls := h.runner.CallsTo("certbot")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, "--staging")
	assert.Contains(t, calls[0].String(), "--email ops@example.org")
}

func TestIssueToolFailure(t *testing.T) {
	h := newHarness(t)
	sub := h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	h.runner.Handle("certbot", func(string, []string) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Challenge failed for domain blog.example.com"}, nil
	})

	err := h.manager.Issue(context.Background(), "blog.example.com")
	assert.ErrorIs(t, err, model.ErrToolFailure)
	assert.ErrorContains(t, err, "Challenge failed")

	got, err := h.store.GetSubdomain(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusError, got.SSLStatus)
	assert.Nil(t, got.SSLExpiryDate)
	assert.Empty(t, h.proxy.names)
	assert.Empty(t, h.runner.CallsTo("openssl"))
}

func TestIssueMissingFiles(t *testing.T) {
	h := newHarness(t)
	sub := h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)

	err := h.manager.Issue(context.Background(), "blog.example.com")
	assert.ErrorIs(t, err, model.ErrToolFailure)

	got, err := h.store.GetSubdomain(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusError, got.SSLStatus)
}

func TestIssueUnparseableExpiry(t *testing.T) {
	h := newHarness(t)
	sub := h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	h.scriptTools(t, fixedNow)
	h.runner.Handle("openssl", func(string, []string) (runner.Result, error) {
		return runner.Result{Stdout: "garbage"}, nil
	})

	err := h.manager.Issue(context.Background(), "blog.example.com")
	assert.ErrorIs(t, err, model.ErrParseFailure)

	got, err := h.store.GetSubdomain(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusError, got.SSLStatus)
	assert.Nil(t, got.SSLExpiryDate)
}

func TestIssueTimeout(t *testing.T) {
	h := newHarness(t)
	h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	h.runner.Handle("certbot", func(string, []string) (runner.Result, error) {
		return runner.Result{}, context.DeadlineExceeded
	})

	err := h.manager.Issue(context.Background(), "blog.example.com")
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestIssueProxyFailureKeepsValid(t *testing.T) {
	h := newHarness(t)
	sub := h.addSubdomain(t, "blog.example.com", model.SSLStatusNone, nil)
	h.scriptTools(t, fixedNow.Add(90*24*time.Hour))
	h.proxy.err = model.ErrConfigInvalid

	require.NoError(t, h.manager.Issue(context.Background(), "blog.example.com"))

	got, err := h.store.GetSubdomain(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusValid, got.SSLStatus)
}

func TestIssueUnknownName(t *testing.T) {
	h := newHarness(t)
	err := h.manager.Issue(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, h.runner.Calls())
}

func TestRenewSweep(t *testing.T) {
	h := newHarness(t)
	far := fixedNow.Add(40 * 24 * time.Hour)
	near := fixedNow.Add(10 * 24 * time.Hour)
	farSub := h.addSubdomain(t, "far.example.com", model.SSLStatusValid, &far)
	nearSub := h.addSubdomain(t, "near.example.com", model.SSLStatusValid, &near)
	h.addSubdomain(t, "broken.example.com", model.SSLStatusError, nil)

	renewedUntil := fixedNow.Add(90 * 24 * time.Hour)
	h.scriptTools(t, renewedUntil)

	result, err := h.manager.RenewSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Renewed: 1}, result)

	calls := h.runner.CallsTo("certbot")
	require.Len(t, calls, 1)
	assert.Equal(t, "certbot renew --cert-name near.example.com --non-interactive", calls[0].String())

	got, err := h.store.GetSubdomain(nearSub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusValid, got.SSLStatus)
	require.NotNil(t, got.SSLExpiryDate)
	assert.True(t, renewedUntil.Equal(*got.SSLExpiryDate))

	got, err = h.store.GetSubdomain(farSub.ID)
	require.NoError(t, err)
	assert.True(t, far.Equal(*got.SSLExpiryDate))

	assert.Equal(t, []string{"near.example.com"}, h.proxy.names)
}

func TestRenewSweepContinuesAfterFailure(t *testing.T) {
	h := newHarness(t)
	near := fixedNow.Add(5 * 24 * time.Hour)
	bad := h.addSubdomain(t, "a.example.com", model.SSLStatusValid, &near)
	good := h.addSubdomain(t, "b.example.com", model.SSLStatusValid, &near)
	h.scriptTools(t, fixedNow.Add(90*24*time.Hour))

	h.runner.Handle("certbot", func(_ string, args []string) (runner.Result, error) {
		if args[2] == "a.example.com" {
			return runner.Result{ExitCode: 1, Stderr: "rate limited"}, nil
		}
		dir := filepath.Join(h.liveDir, args[2])
		if err := os.MkdirAll(dir, 0755); err != nil {
			return runner.Result{}, err
		}
		return runner.Result{}, os.WriteFile(filepath.Join(dir, certFile), []byte("pem"), 0600)
	})

	result, err := h.manager.RenewSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, 1, result.Failed)

	got, err := h.store.GetSubdomain(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusError, got.SSLStatus)
	assert.Nil(t, got.SSLExpiryDate)

	got, err = h.store.GetSubdomain(good.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SSLStatusValid, got.SSLStatus)
}

func TestRenewSweepSkipsBusyNames(t *testing.T) {
	h := newHarness(t)
	near := fixedNow.Add(5 * 24 * time.Hour)
	h.addSubdomain(t, "blog.example.com", model.SSLStatusValid, &near)
	h.scriptTools(t, fixedNow.Add(90*24*time.Hour))

	release, ok := h.inflight.TryAcquire("blog.example.com")
	require.True(t, ok)

	result, err := h.manager.RenewSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Skipped: []string{"blog.example.com"}}, result)
	assert.Empty(t, h.runner.Calls())

	release()
	assert.False(t, h.inflight.Busy("blog.example.com"))

	result, err = h.manager.RenewSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.False(t, h.inflight.Busy("blog.example.com"))
}

type failingStore struct {
	Store
}

func (failingStore) ListSubdomainsBySSLStatus(model.SSLStatus) ([]db.Subdomain, error) {
	return nil, errors.New("database is locked")
}

func TestRenewSweepListFailure(t *testing.T) {
	m := New(Config{}, runnertest.New(), failingStore{}, nil, inflight.New(), logrus.WithField("test", t.Name()))
	_, err := m.RenewSweep(context.Background())
	assert.ErrorContains(t, err, "database is locked")
}

func TestParseExpiry(t *testing.T) {
	want := time.Date(2023, time.June, 5, 12, 30, 45, 0, time.UTC)

	for _, out := range []string{
		"notAfter=Jun  5 12:30:45 2023 GMT",
		"notAfter=Jun  5 12:30:45 2023 GMT\n",
		"notAfter=Mon, 05 Jun 2023 12:30:45 UTC",
		"notAfter=2023-06-05T12:30:45Z",
	} {
		got, err := ParseExpiry(out)
		require.NoError(t, err, out)
		assert.True(t, want.Equal(got), out)
	}

	for _, out := range []string{"", "notBefore=Jun  5 12:30:45 2023 GMT", "notAfter=next tuesday"} {
		_, err := ParseExpiry(out)
		assert.ErrorIs(t, err, model.ErrParseFailure, out)
	}
}

func TestContactEmail(t *testing.T) {
	m := New(Config{}, nil, nil, nil, nil, logrus.WithField("test", t.Name()))
	assert.Equal(t, "admin@example.com", m.contactEmail("blog.example.com"))
	assert.Equal(t, "admin@example.com", m.contactEmail("a.b.example.com"))
	assert.Equal(t, "admin@example.com", m.contactEmail("example.com"))
}
