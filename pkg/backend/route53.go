package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/dnsupdate"
	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// upsertWithRetry points the A record for name at ip, retrying on the dnsRetry schedule.
// Failures that another attempt cannot fix stop the retries early. The outcome is
// reported, never returned: a missing record does not stop the rest of the pipeline.
func (b *backend) upsertWithRetry(ctx context.Context, log *logrus.Entry, credentialID uint, zone, name, ip string) bool {
	attempt := 0
	err := wait.ExponentialBackoff(b.dnsRetry, func() (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		attempt++
		err := b.records.Upsert(ctx, credentialID, zone, name, ip)
		metrics.DNSUpsertAttempts.WithLabelValues(metrics.Result(err)).Inc()
		if err == nil {
			return true, nil
		}
		if permanentDNSError(err) {
			return false, err
		}
		log.Warnf("dns upsert attempt %d of %d failed: %v", attempt, b.dnsRetry.Steps, err)
		return false, nil
	})
	if err != nil {
		log.Errorf("dns record not configured after %d attempt(s): %v", attempt, err)
		return false
	}

	log.Infof("dns record configured after %d attempt(s)", attempt)
	return true
}

func permanentDNSError(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrInvalidCredential) ||
		errors.Is(err, model.ErrZoneNotFound)
}

func (b *backend) CreateCredential(ctx context.Context, input model.CredentialRequest) (model.Credential, error) {
	cfg := dnsupdate.ProviderConfig{
		AccessKeyID:     input.AccessKeyID,
		SecretAccessKey: input.SecretAccessKey,
		Region:          regionOrDefault(input.Region),
	}
	if err := b.records.Validate(ctx, cfg); err != nil {
		return model.Credential{}, err
	}

	sealed, err := b.box.Seal(cfg.SecretAccessKey)
	if err != nil {
		return model.Credential{}, err
	}

	cred := db.Credential{
		Name:            input.Name,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: sealed,
		Region:          cfg.Region,
		IsActive:        true,
	}
	if err := b.db.CreateCredential(&cred); err != nil {
		return model.Credential{}, err
	}

	b.log.Infof("created credential %s", cred.Name)
	return toCredential(cred), nil
}

func (b *backend) GetCredential(id uint) (model.Credential, error) {
	cred, err := b.db.GetCredential(id)
	if err != nil {
		return model.Credential{}, err
	}
	return toCredential(cred), nil
}

func (b *backend) ListCredentials() ([]model.Credential, error) {
	creds, err := b.db.ListCredentials()
	if err != nil {
		return nil, err
	}
	result := make([]model.Credential, 0, len(creds))
	for _, c := range creds {
		result = append(result, toCredential(c))
	}
	return result, nil
}

// UpdateCredential applies a partial update. Any change to the key pair or region is
// validated against the provider before it is stored.
func (b *backend) UpdateCredential(ctx context.Context, id uint, input model.CredentialUpdateRequest) (model.Credential, error) {
	cred, err := b.db.GetCredential(id)
	if err != nil {
		return model.Credential{}, err
	}

	if input.AccessKeyID != nil || input.SecretAccessKey != nil || input.Region != nil {
		cfg := dnsupdate.ProviderConfig{
			AccessKeyID: cred.AccessKeyID,
			Region:      cred.Region,
		}
		if input.AccessKeyID != nil {
			cfg.AccessKeyID = *input.AccessKeyID
		}
		if input.Region != nil {
			cfg.Region = regionOrDefault(*input.Region)
		}
		if input.SecretAccessKey != nil {
			cfg.SecretAccessKey = *input.SecretAccessKey
		} else {
			secret, err := b.box.Open(cred.SecretAccessKey)
			if err != nil {
				return model.Credential{}, fmt.Errorf("%w: stored secret for %s is unreadable, supply a new one: %v", model.ErrInvalidCredential, cred.Name, err)
			}
			cfg.SecretAccessKey = secret
		}

		if err := b.records.Validate(ctx, cfg); err != nil {
			return model.Credential{}, err
		}

		if input.SecretAccessKey != nil {
			sealed, err := b.box.Seal(cfg.SecretAccessKey)
			if err != nil {
				return model.Credential{}, err
			}
			cred.SecretAccessKey = sealed
		}
		cred.AccessKeyID = cfg.AccessKeyID
		cred.Region = cfg.Region
	}

	if input.Name != nil {
		cred.Name = *input.Name
	}
	if input.IsActive != nil {
		cred.IsActive = *input.IsActive
	}

	if err := b.db.SaveCredential(&cred); err != nil {
		return model.Credential{}, err
	}
	b.log.Infof("updated credential %s", cred.Name)
	return toCredential(cred), nil
}

// DeleteCredential removes the credential. Subdomains that referenced it keep the dangling id.
func (b *backend) DeleteCredential(id uint) error {
	return b.db.DeleteCredential(id)
}

func (b *backend) ValidateCredential(ctx context.Context, input model.ValidateCredentialRequest) error {
	return b.records.Validate(ctx, dnsupdate.ProviderConfig{
		AccessKeyID:     input.AccessKeyID,
		SecretAccessKey: input.SecretAccessKey,
		Region:          regionOrDefault(input.Region),
	})
}

func regionOrDefault(region string) string {
	if region == "" {
		return dnsupdate.DefaultRegion
	}
	return region
}
