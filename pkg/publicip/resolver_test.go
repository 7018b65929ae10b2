package publicip

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDottedQuad(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"203.0.113.7", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"example.com", false},
		{"", false},
		{"256.1.1.1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"::ffff:1.2.3.4", false},
		{"2001:db8::1", false},
		{" 1.2.3.4", false},
		{"1.2.3.4\n", false},
		{"a.b.c.d", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDottedQuad(tt.in), "input %q", tt.in)
	}
}

func TestHTTPStrategy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{name: "plain", status: http.StatusOK, body: "203.0.113.7", want: "203.0.113.7"},
		{name: "trailing newline", status: http.StatusOK, body: "203.0.113.7\n", want: "203.0.113.7"},
		{name: "html body", status: http.StatusOK, body: "<html>nope</html>", wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: "203.0.113.7", wantErr: true},
		{name: "empty", status: http.StatusOK, body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ip, err := HTTPStrategy(srv.Client(), srv.URL).Resolve(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip)
		})
	}
}

func TestDNSStrategy(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			rr, err := dns.NewRR(r.Question[0].Name + " 0 IN A 198.51.100.4")
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	defer func() {
		_ = srv.Shutdown()
	}()

	ip, err := DNSStrategy(pc.LocalAddr().String(), "myip.opendns.com").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", ip)
}

func staticStrategy(name, ip string, err error, calls *[]string) Strategy {
	return Strategy{
		Name: name,
		Resolve: func(ctx context.Context) (string, error) {
			*calls = append(*calls, name)
			return ip, err
		},
	}
}

func TestResolveStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	r := NewWithStrategies(logrus.WithField("test", t.Name()), time.Second,
		staticStrategy("native", "", errors.New("boom"), &calls),
		staticStrategy("first-http", "203.0.113.7", nil, &calls),
		staticStrategy("second-http", "198.51.100.1", nil, &calls),
	)

	ip, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)
	assert.Equal(t, []string{"native", "first-http"}, calls)
}

func TestResolveTreatsMalformedAddressAsFailure(t *testing.T) {
	var calls []string
	r := NewWithStrategies(logrus.WithField("test", t.Name()), time.Second,
		staticStrategy("native", "example.com", nil, &calls),
		staticStrategy("http", "203.0.113.7", nil, &calls),
	)

	ip, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)
}

func TestResolveAggregatesFailures(t *testing.T) {
	var calls []string
	r := NewWithStrategies(logrus.WithField("test", t.Name()), time.Second,
		staticStrategy("native", "", errors.New("no dns"), &calls),
		staticStrategy("first-http", "", errors.New("refused"), &calls),
		staticStrategy("second-http", "", errors.New("timeout"), &calls),
	)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dns")
	assert.Contains(t, err.Error(), "refused")
	assert.Contains(t, err.Error(), "timeout")
	assert.Len(t, calls, 3)
}

func TestResolveBoundsEachStrategy(t *testing.T) {
	slow := Strategy{
		Name: "slow",
		Resolve: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	var calls []string
	r := NewWithStrategies(logrus.WithField("test", t.Name()), 20*time.Millisecond,
		slow,
		staticStrategy("fast", "203.0.113.7", nil, &calls),
	)

	ip, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)
}
