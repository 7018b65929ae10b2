package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/certs"
	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/dnsupdate"
	"github.com/acorn-io/subdomain-manager/pkg/inflight"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/probe"
	"github.com/acorn-io/subdomain-manager/pkg/secrets"
	"github.com/acorn-io/subdomain-manager/pkg/tasks"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultDNSAttempts   = 3
	DefaultDNSRetryDelay = 2 * time.Second
)

type Backend interface {
	CreateSubdomain(ctx context.Context, input model.SubdomainRequest) (model.Subdomain, error)
	GetSubdomain(id uint) (model.Subdomain, error)
	ListSubdomains() ([]model.Subdomain, error)
	DeleteSubdomain(ctx context.Context, id uint) error
	CheckWebServer(ctx context.Context, id uint) (model.WebServerCheck, error)
	CheckAllWebServers(ctx context.Context) (model.CheckAllResponse, error)
	IssueCertificate(ctx context.Context, id uint) (model.IssueResponse, error)
	RenewCertificates(ctx context.Context) (model.RenewResponse, error)
	PublicIP(ctx context.Context) (string, error)

	CreateCredential(ctx context.Context, input model.CredentialRequest) (model.Credential, error)
	GetCredential(id uint) (model.Credential, error)
	ListCredentials() ([]model.Credential, error)
	UpdateCredential(ctx context.Context, id uint, input model.CredentialUpdateRequest) (model.Credential, error)
	DeleteCredential(id uint) error
	ValidateCredential(ctx context.Context, input model.ValidateCredentialRequest) error

	// Wait blocks until background certificate work has finished.
	Wait()
	Shutdown(ctx context.Context) error
}

type AddressResolver interface {
	Resolve(ctx context.Context) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, name string) probe.Result
}

type RecordUpdater interface {
	Upsert(ctx context.Context, credentialID uint, zone, recordName, ip string) error
	Validate(ctx context.Context, cfg dnsupdate.ProviderConfig) error
}

type CertificateManager interface {
	Issue(ctx context.Context, name string) error
	RenewSweep(ctx context.Context) (certs.SweepResult, error)
}

type ProxyRemover interface {
	Remove(ctx context.Context, name string) error
}

// Components are the collaborators a backend drives. All of them are required.
type Components struct {
	Database db.Database
	Secrets  *secrets.Box
	Resolver AddressResolver
	Prober   Prober
	Records  RecordUpdater
	Certs    CertificateManager
	Proxy    ProxyRemover
	Queue    *tasks.Queue
	Inflight *inflight.Registry
}

type backend struct {
	db       db.Database
	box      *secrets.Box
	resolver AddressResolver
	prober   Prober
	records  RecordUpdater
	certs    CertificateManager
	proxy    ProxyRemover
	queue    *tasks.Queue
	inflight *inflight.Registry

	dnsRetry wait.Backoff
	log      *logrus.Entry
}

// DNSRetry is the upsert schedule: attempts tries, a constant delay apart.
func DNSRetry(attempts int, delay time.Duration) wait.Backoff {
	if attempts <= 0 {
		attempts = DefaultDNSAttempts
	}
	if delay < 0 {
		delay = DefaultDNSRetryDelay
	}
	return wait.Backoff{
		Steps:    attempts,
		Duration: delay,
		Factor:   1,
	}
}

func NewBackend(c Components, dnsRetry wait.Backoff, log *logrus.Entry) Backend {
	return &backend{
		db:       c.Database,
		box:      c.Secrets,
		resolver: c.Resolver,
		prober:   c.Prober,
		records:  c.Records,
		certs:    c.Certs,
		proxy:    c.Proxy,
		queue:    c.Queue,
		inflight: c.Inflight,
		dnsRetry: dnsRetry,
		log:      log,
	}
}

func (b *backend) GetSubdomain(id uint) (model.Subdomain, error) {
	logrus.Debugf("get subdomain: %v", id)
	sub, err := b.db.GetSubdomain(id)
	if err != nil {
		return model.Subdomain{}, err
	}
	return toSubdomain(sub), nil
}

func (b *backend) ListSubdomains() ([]model.Subdomain, error) {
	subs, err := b.db.ListSubdomains()
	if err != nil {
		return nil, err
	}
	result := make([]model.Subdomain, 0, len(subs))
	for _, s := range subs {
		result = append(result, toSubdomain(s))
	}
	return result, nil
}

// DeleteSubdomain removes the record and its proxy vhost. The DNS record and certificate are left in place.
func (b *backend) DeleteSubdomain(ctx context.Context, id uint) error {
	sub, err := b.db.GetSubdomain(id)
	if err != nil {
		return err
	}

	release, ok := b.inflight.TryAcquire(sub.Name)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrInProgress, sub.Name)
	}
	defer release()

	if err := b.proxy.Remove(ctx, sub.Name); err != nil {
		b.log.Warnf("unable to remove proxy configuration for %s: %v", sub.Name, err)
	}

	if err := b.db.DeleteSubdomain(id); err != nil {
		return err
	}
	b.log.Infof("deleted subdomain %s", sub.Name)
	return nil
}

func (b *backend) PublicIP(ctx context.Context) (string, error) {
	return b.resolver.Resolve(ctx)
}

func (b *backend) Wait() {
	b.queue.Wait()
}

func (b *backend) Shutdown(ctx context.Context) error {
	return b.queue.Shutdown(ctx)
}

func toSubdomain(s db.Subdomain) model.Subdomain {
	return model.Subdomain{
		ID:            s.ID,
		Name:          s.Name,
		Domain:        s.Domain,
		IPAddress:     s.IPAddress,
		HasWebServer:  s.HasWebServer,
		WebServerType: s.WebServerType,
		SSLStatus:     s.SSLStatus,
		SSLExpiryDate: s.SSLExpiryDate,
		DNSConfigured: s.DNSConfigured,
		CredentialID:  s.CredentialID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toCredential(c db.Credential) model.Credential {
	return model.Credential{
		ID:          c.ID,
		Name:        c.Name,
		AccessKeyID: c.AccessKeyID,
		Region:      c.Region,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
