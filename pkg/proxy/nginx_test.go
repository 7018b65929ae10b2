package proxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/runner"
	"github.com/acorn-io/subdomain-manager/pkg/runner/runnertest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	certPath = "/etc/letsencrypt/live/blog.example.com/fullchain.pem"
	keyPath  = "/etc/letsencrypt/live/blog.example.com/privkey.pem"
)

func newTestNginx(t *testing.T) (*Nginx, *runnertest.Runner, string) {
	t.Helper()
	dir := t.TempDir()
	r := runnertest.New()
	n := NewNginx(Config{
		ConfDir:   dir,
		Upstream:  "http://127.0.0.1:3000",
		WebRoot:   "/srv/acme",
		NginxPath: "nginx",
	}, r, logrus.WithField("test", t.Name()))
	return n, r, dir
}

func failTest(_ string, args []string) (runner.Result, error) {
	if len(args) > 0 && args[0] == "-t" {
		return runner.Result{ExitCode: 1, Stderr: "nginx: [emerg] unexpected \"}\""}, nil
	}
	return runner.Result{}, nil
}

func TestRender(t *testing.T) {
	n, _, _ := newTestNginx(t)

	out, err := n.Render("blog.example.com", certPath, keyPath)
	require.NoError(t, err)

	assert.Contains(t, out, "server_name blog.example.com;")
	assert.Contains(t, out, "return 301 https://$host$request_uri;")
	assert.Contains(t, out, "ssl_certificate "+certPath+";")
	assert.Contains(t, out, "ssl_certificate_key "+keyPath+";")
	assert.Contains(t, out, "ssl_protocols TLSv1.2 TLSv1.3;")
	assert.Contains(t, out, "proxy_pass http://127.0.0.1:3000;")
	assert.Contains(t, out, "proxy_set_header X-Forwarded-Proto $scheme;")
	assert.Contains(t, out, "root /srv/acme;")
}

func TestRenderRejectsBadNames(t *testing.T) {
	n, _, _ := newTestNginx(t)

	for _, name := range []string{"", "blog", "../etc/passwd", "blog.example.com; include /etc/shadow", "-x.example.com"} {
		_, err := n.Render(name, certPath, keyPath)
		assert.Error(t, err, name)
	}
}

func TestConfigure(t *testing.T) {
	n, r, dir := newTestNginx(t)

	require.NoError(t, n.Configure(context.Background(), "blog.example.com", certPath, keyPath))

	data, err := os.ReadFile(filepath.Join(dir, "blog.example.com.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_name blog.example.com;")

	calls := r.CallsTo("nginx")
	require.Len(t, calls, 2)
	assert.Equal(t, "nginx -t", calls[0].String())
	assert.Equal(t, "nginx -s reload", calls[1].String())
}

func TestConfigureInvalidRemovesNewFile(t *testing.T) {
	n, r, dir := newTestNginx(t)
	r.Handle("nginx", failTest)

	err := n.Configure(context.Background(), "blog.example.com", certPath, keyPath)
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
	assert.ErrorContains(t, err, "unexpected")

	_, statErr := os.Stat(filepath.Join(dir, "blog.example.com.conf"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	calls := r.CallsTo("nginx")
	require.Len(t, calls, 1)
	assert.Equal(t, "nginx -t", calls[0].String())
}

func TestConfigureInvalidRestoresPrevious(t *testing.T) {
	n, r, dir := newTestNginx(t)
	path := filepath.Join(dir, "blog.example.com.conf")
	require.NoError(t, os.WriteFile(path, []byte("# previous\n"), 0644))

	r.Handle("nginx", failTest)
	err := n.Configure(context.Background(), "blog.example.com", certPath, keyPath)
	assert.ErrorIs(t, err, model.ErrConfigInvalid)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# previous\n", string(data))
}

func TestConfigureReloadFailure(t *testing.T) {
	n, r, dir := newTestNginx(t)
	r.Handle("nginx", func(_ string, args []string) (runner.Result, error) {
		if args[0] == "-s" {
			return runner.Result{ExitCode: 1, Stderr: "nginx: [error] invalid PID number"}, nil
		}
		return runner.Result{}, nil
	})

	err := n.Configure(context.Background(), "blog.example.com", certPath, keyPath)
	assert.ErrorIs(t, err, model.ErrToolFailure)

	// the file validated, so it stays in place for the next reload
	_, statErr := os.Stat(filepath.Join(dir, "blog.example.com.conf"))
	assert.NoError(t, statErr)
}

func TestConfigureIdempotent(t *testing.T) {
	n, r, dir := newTestNginx(t)

	require.NoError(t, n.Configure(context.Background(), "blog.example.com", certPath, keyPath))
	first, err := os.ReadFile(filepath.Join(dir, "blog.example.com.conf"))
	require.NoError(t, err)

	require.NoError(t, n.Configure(context.Background(), "blog.example.com", certPath, keyPath))
	second, err := os.ReadFile(filepath.Join(dir, "blog.example.com.conf"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, r.CallsTo("nginx"), 4)
}

func TestRemove(t *testing.T) {
	n, r, dir := newTestNginx(t)

	require.NoError(t, n.Remove(context.Background(), "blog.example.com"))
	assert.Empty(t, r.Calls())

	require.NoError(t, n.Configure(context.Background(), "blog.example.com", certPath, keyPath))
	require.NoError(t, n.Remove(context.Background(), "blog.example.com"))

	_, statErr := os.Stat(filepath.Join(dir, "blog.example.com.conf"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	assert.Len(t, r.CallsTo("nginx"), 4)
}
