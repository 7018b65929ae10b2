package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 5 * time.Second

	// bodies are discarded, at most this much is read to let the connection be reused
	maxDrainBytes = 4 << 10
)

var nodeFrameworks = []string{"express", "next.js", "nuxt", "koa", "hapi", "fastify", "node"}

type Result struct {
	Present    bool
	ServerType model.WebServerType
}

func (r Result) Check() model.WebServerCheck {
	return model.WebServerCheck{HasWebServer: r.Present, ServerType: r.ServerType}
}

type Prober struct {
	client  *http.Client
	timeout time.Duration
	log     *logrus.Entry
}

func New(log *logrus.Entry, timeout time.Duration) *Prober {
	return NewWithClient(log, timeout, &http.Client{})
}

// NewWithClient uses the given client with redirects disabled; the client's own Timeout is ignored in favour of timeout.
func NewWithClient(log *logrus.Entry, timeout time.Duration, client *http.Client) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := *client
	c.Timeout = 0
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Prober{
		client:  &c,
		timeout: timeout,
		log:     log,
	}
}

// Probe reports whether name answers HTTP(S). HTTPS is tried first; any response, whatever the status, counts as present.
// Failing on both schemes is a normal negative result.
func (p *Prober) Probe(ctx context.Context, name string) Result {
	result := Result{ServerType: model.WebServerUnknown}

	for _, scheme := range []string{"https", "http"} {
		header, err := p.request(ctx, scheme+"://"+name)
		if err != nil {
			p.log.Debugf("%s probe of %s failed: %v", scheme, name, err)
			continue
		}
		result.Present = true
		result.ServerType = Classify(header)
		break
	}

	metrics.Probes.WithLabelValues(string(result.ServerType)).Inc()
	return result
}

func (p *Prober) request(ctx context.Context, url string) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", model.ErrTimeout, url, p.timeout)
		}
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()

	return resp.Header, nil
}

// Classify identifies the server software from response headers.
func Classify(header http.Header) model.WebServerType {
	server := strings.ToLower(header.Get("Server"))
	poweredBy := strings.ToLower(header.Get("X-Powered-By"))

	switch {
	case strings.Contains(server, "nginx"):
		return model.WebServerNginx
	case strings.Contains(server, "apache"):
		return model.WebServerApache
	case isNodeFramework(poweredBy):
		return model.WebServerNodeJS
	case server != "":
		return model.WebServerOther
	}
	return model.WebServerUnknown
}

func isNodeFramework(poweredBy string) bool {
	if poweredBy == "" {
		return false
	}
	for _, f := range nodeFrameworks {
		if strings.Contains(poweredBy, f) {
			return true
		}
	}
	return false
}
