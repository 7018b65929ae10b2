package publicip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 64

	openDNSName     = "myip.opendns.com."
	openDNSResolver = "resolver1.opendns.com:53"
	ipifyURL        = "https://api.ipify.org"
	ifconfigURL     = "http://ifconfig.me"
)

// Strategy discovers the host's public IPv4 address one way.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context) (string, error)
}

type Resolver struct {
	strategies []Strategy
	timeout    time.Duration
	log        *logrus.Entry
}

// New returns a resolver that asks OpenDNS first and then two HTTP echo services.
func New(log *logrus.Entry) *Resolver {
	client := &http.Client{}
	return NewWithStrategies(log, defaultTimeout,
		DNSStrategy(openDNSResolver, openDNSName),
		HTTPStrategy(client, ipifyURL),
		HTTPStrategy(client, ifconfigURL),
	)
}

func NewWithStrategies(log *logrus.Entry, timeout time.Duration, strategies ...Strategy) *Resolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Resolver{
		strategies: strategies,
		timeout:    timeout,
		log:        log,
	}
}

// Resolve tries each strategy once, in order, and returns the first address found.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	var errs error
	for _, s := range r.strategies {
		ip, err := r.try(ctx, s)
		if err == nil {
			r.log.Debugf("public address %s found via %s", ip, s.Name)
			return ip, nil
		}
		r.log.Warnf("public address strategy %s failed: %v", s.Name, err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}

	if errs == nil {
		return "", fmt.Errorf("no public address strategies configured")
	}
	return "", fmt.Errorf("unable to detect public address: %w", errs)
}

func (r *Resolver) try(ctx context.Context, s Strategy) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ip, err := s.Resolve(ctx)
	if err != nil {
		return "", err
	}
	if !IsDottedQuad(ip) {
		return "", fmt.Errorf("%q is not an IPv4 address", ip)
	}
	return ip, nil
}

// IsDottedQuad reports whether s is exactly a dotted-quad IPv4 address.
func IsDottedQuad(s string) bool {
	if strings.Count(s, ".") != 3 || strings.ContainsAny(s, ": \t\r\n") {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// DNSStrategy asks a resolver that answers with the querying address, as OpenDNS does for myip.opendns.com.
func DNSStrategy(server, name string) Strategy {
	return Strategy{
		Name: "dns:" + server,
		Resolve: func(ctx context.Context) (string, error) {
			m := new(dns.Msg)
			m.SetQuestion(dns.Fqdn(name), dns.TypeA)

			c := new(dns.Client)
			in, _, err := c.ExchangeContext(ctx, m, server)
			if err != nil {
				return "", err
			}
			if in.Rcode != dns.RcodeSuccess {
				return "", fmt.Errorf("dns query answered %s", dns.RcodeToString[in.Rcode])
			}
			for _, rr := range in.Answer {
				if a, ok := rr.(*dns.A); ok {
					return a.A.String(), nil
				}
			}
			return "", fmt.Errorf("no A record in answer for %s", name)
		},
	}
}

// HTTPStrategy reads the address from the plain text body of an "echo my IP" endpoint.
func HTTPStrategy(client *http.Client, url string) Strategy {
	return Strategy{
		Name: "http:" + url,
		Resolve: func(ctx context.Context) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("Accept", "text/plain")
			req.Header.Set("User-Agent", "curl/8")

			resp, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
				return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return "", err
			}
			ip := strings.TrimSpace(string(body))
			if !IsDottedQuad(ip) {
				return "", fmt.Errorf("response does not appear to be an IP address: %q", ip)
			}
			return ip, nil
		},
	}
}
