package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/dnsupdate"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/probe"
	"github.com/sirupsen/logrus"
)

// CreateSubdomain registers a subdomain and drives it as far as it can go synchronously:
// address, DNS record, web server probe. Certificate issuance is started in the background
// when a web server answers, and the returned record does not wait for it.
func (b *backend) CreateSubdomain(ctx context.Context, input model.SubdomainRequest) (model.Subdomain, error) {
	name := dnsupdate.RecordFQDN(input.Domain, input.Name)
	log := b.log.WithField("subdomain", name)

	release, ok := b.inflight.TryAcquire(name)
	if !ok {
		return model.Subdomain{}, fmt.Errorf("%w: %s", model.ErrInProgress, name)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	if _, err := b.db.GetSubdomainByName(name); err == nil {
		return model.Subdomain{}, fmt.Errorf("%w: subdomain %s", model.ErrAlreadyExists, name)
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Subdomain{}, err
	}

	if input.CredentialID != nil {
		if _, err := b.db.GetCredential(*input.CredentialID); err != nil {
			return model.Subdomain{}, fmt.Errorf("credential %d: %w", *input.CredentialID, err)
		}
	}

	ip, err := b.resolver.Resolve(ctx)
	if err != nil {
		return model.Subdomain{}, fmt.Errorf("unable to determine public address: %w", err)
	}

	sub := db.Subdomain{
		Name:          name,
		Domain:        input.Domain,
		IPAddress:     ip,
		WebServerType: model.WebServerUnknown,
		SSLStatus:     model.SSLStatusNone,
		CredentialID:  input.CredentialID,
	}
	if err := b.db.CreateSubdomain(&sub); err != nil {
		return model.Subdomain{}, err
	}
	log.Infof("registered subdomain with address %s", ip)

	if input.CredentialID != nil {
		configured := b.upsertWithRetry(ctx, log, *input.CredentialID, input.Domain, name, ip)
		if err := b.db.UpdateSubdomainStatus(sub.ID, db.SubdomainStatus{DNSConfigured: &configured}); err != nil {
			return model.Subdomain{}, err
		}
	}

	result, err := b.probeAndRecord(ctx, sub.ID, name)
	if err != nil {
		return model.Subdomain{}, err
	}

	if result.Present {
		if err := b.submitIssue(name, release); err != nil {
			log.Errorf("certificate issuance not started: %v", err)
		} else {
			handedOff = true
		}
	} else {
		log.Info("no web server detected, certificate issuance deferred")
	}

	return b.GetSubdomain(sub.ID)
}

// CheckWebServer re-probes one subdomain and records the result. It never starts issuance.
func (b *backend) CheckWebServer(ctx context.Context, id uint) (model.WebServerCheck, error) {
	sub, err := b.db.GetSubdomain(id)
	if err != nil {
		return model.WebServerCheck{}, err
	}

	release, ok := b.inflight.TryAcquire(sub.Name)
	if !ok {
		return model.WebServerCheck{}, fmt.Errorf("%w: %s", model.ErrInProgress, sub.Name)
	}
	defer release()

	result, err := b.probeAndRecord(ctx, sub.ID, sub.Name)
	if err != nil {
		return model.WebServerCheck{}, err
	}
	return result.Check(), nil
}

// IssueCertificate starts issuance for a subdomain in the background. A stored negative
// probe result is refreshed first.
func (b *backend) IssueCertificate(ctx context.Context, id uint) (model.IssueResponse, error) {
	sub, err := b.db.GetSubdomain(id)
	if err != nil {
		return model.IssueResponse{}, err
	}

	release, ok := b.inflight.TryAcquire(sub.Name)
	if !ok {
		return model.IssueResponse{}, fmt.Errorf("%w: %s", model.ErrInProgress, sub.Name)
	}

	if !sub.HasWebServer {
		result, err := b.probeAndRecord(ctx, sub.ID, sub.Name)
		if err != nil {
			release()
			return model.IssueResponse{}, err
		}
		if !result.Present {
			release()
			return model.IssueResponse{}, fmt.Errorf("%w: %s", model.ErrNoWebServer, sub.Name)
		}
	}

	if err := b.submitIssue(sub.Name, release); err != nil {
		release()
		return model.IssueResponse{}, err
	}

	return model.IssueResponse{
		Message: fmt.Sprintf("certificate issuance started for %s", sub.Name),
		Status:  model.SSLStatusPending,
	}, nil
}

func (b *backend) probeAndRecord(ctx context.Context, id uint, name string) (probe.Result, error) {
	result := b.prober.Probe(ctx, name)
	serverType := result.ServerType
	if err := b.db.UpdateSubdomainStatus(id, db.SubdomainStatus{
		HasWebServer:  &result.Present,
		WebServerType: &serverType,
	}); err != nil {
		return result, err
	}
	return result, nil
}

// submitIssue hands the pipeline lock for name to a background issuance task.
// The lock is still the caller's when an error is returned.
func (b *backend) submitIssue(name string, release func()) error {
	task, err := b.queue.Submit("issue "+name, func(ctx context.Context) error {
		defer release()
		return b.certs.Issue(ctx, name)
	})
	if err != nil {
		return err
	}
	b.log.WithFields(logrus.Fields{"subdomain": name, "taskID": task.ID}).Info("certificate issuance queued")
	return nil
}
