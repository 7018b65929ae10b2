package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   model.WebServerType
	}{
		{"nginx", http.Header{"Server": {"nginx/1.25"}}, model.WebServerNginx},
		{"apache", http.Header{"Server": {"Apache/2.4"}}, model.WebServerApache},
		{"express without server", http.Header{"X-Powered-By": {"Express"}}, model.WebServerNodeJS},
		{"next.js", http.Header{"X-Powered-By": {"Next.js"}}, model.WebServerNodeJS},
		{"server wins over powered-by", http.Header{"Server": {"nginx"}, "X-Powered-By": {"Express"}}, model.WebServerNginx},
		{"other server", http.Header{"Server": {"cloudflare"}}, model.WebServerOther},
		{"php powered-by", http.Header{"X-Powered-By": {"PHP/8.2"}}, model.WebServerUnknown},
		{"nothing", http.Header{}, model.WebServerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.header))
		})
	}
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	host := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	require.NotEmpty(t, host)
	return host
}

func TestProbeFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.25")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(strings.Repeat("x", 1<<20)))
	}))
	defer srv.Close()

	p := New(logrus.WithField("test", t.Name()), time.Second)
	res := p.Probe(context.Background(), hostOf(t, srv.URL))

	assert.True(t, res.Present, "an HTTP error status still counts as present")
	assert.Equal(t, model.WebServerNginx, res.ServerType)
}

func TestProbePrefersHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Apache/2.4")
	}))
	defer srv.Close()

	p := NewWithClient(logrus.WithField("test", t.Name()), time.Second, srv.Client())
	res := p.Probe(context.Background(), hostOf(t, srv.URL))

	assert.True(t, res.Present)
	assert.Equal(t, model.WebServerApache, res.ServerType)
}

func TestProbeDoesNotFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Apache/2.4")
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "Express")
		http.Redirect(w, r, target.URL, http.StatusMovedPermanently)
	}))
	defer srv.Close()

	p := New(logrus.WithField("test", t.Name()), time.Second)
	res := p.Probe(context.Background(), hostOf(t, srv.URL))

	assert.True(t, res.Present)
	assert.Equal(t, model.WebServerNodeJS, res.ServerType)
}

func TestProbeConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	p := New(logrus.WithField("test", t.Name()), time.Second)
	res := p.Probe(context.Background(), addr)

	assert.False(t, res.Present)
	assert.Equal(t, model.WebServerUnknown, res.ServerType)
}

func TestProbeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(logrus.WithField("test", t.Name()), 50*time.Millisecond)

	start := time.Now()
	res := p.Probe(context.Background(), hostOf(t, srv.URL))

	assert.False(t, res.Present)
	assert.Equal(t, model.WebServerUnknown, res.ServerType)
	assert.Less(t, time.Since(start), 2*time.Second)
}
