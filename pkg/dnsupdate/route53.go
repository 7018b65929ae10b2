package dnsupdate

import (
	"context"
	"fmt"
	"strings"

	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/secrets"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRegion    = "us-east-1"
	recordTTLSeconds = 300
	changeComment    = "Updated by subdomain-manager"
)

// ProviderConfig is the complete, immutable input for building a provider client.
// Every call builds its own client from one of these; nothing is shared between calls.
type ProviderConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

type ClientFactory func(cfg ProviderConfig) (route53iface.Route53API, error)

// CredentialStore is the part of the record store the updater reads.
type CredentialStore interface {
	GetCredential(id uint) (db.Credential, error)
}

type Updater struct {
	creds     CredentialStore
	box       *secrets.Box
	newClient ClientFactory
	log       *logrus.Entry
}

func New(creds CredentialStore, box *secrets.Box, log *logrus.Entry) *Updater {
	return NewWithFactory(creds, box, log, NewRoute53Client)
}

func NewWithFactory(creds CredentialStore, box *secrets.Box, log *logrus.Entry, factory ClientFactory) *Updater {
	return &Updater{
		creds:     creds,
		box:       box,
		newClient: factory,
		log:       log,
	}
}

// NewRoute53Client builds a client from static credentials only, never from the ambient AWS environment.
func NewRoute53Client(cfg ProviderConfig) (route53iface.Route53API, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	s, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		MaxRetries:  aws.Int(3),
	})
	if err != nil {
		return nil, err
	}

	return route53.New(s), nil
}

// Validate performs a read-only call with the given keys. Any failure means the keys are unusable.
func (u *Updater) Validate(ctx context.Context, cfg ProviderConfig) error {
	svc, err := u.newClient(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidCredential, err)
	}

	if _, err := svc.ListHostedZonesWithContext(ctx, &route53.ListHostedZonesInput{
		MaxItems: aws.String("1"),
	}); err != nil {
		u.log.Debugf("credential validation for key %s failed: %v", cfg.AccessKeyID, err)
		return fmt.Errorf("%w: %v", model.ErrInvalidCredential, err)
	}
	return nil
}

// Upsert points an A record for recordName in zone at ip using the stored credential.
// The change is submitted synchronously; propagation is not awaited.
func (u *Updater) Upsert(ctx context.Context, credentialID uint, zone, recordName, ip string) error {
	cfg, err := u.providerConfig(credentialID)
	if err != nil {
		return err
	}

	svc, err := u.newClient(cfg)
	if err != nil {
		return err
	}

	zoneID, err := hostedZoneID(ctx, svc, zone)
	if err != nil {
		return err
	}

	fqdn := RecordFQDN(zone, recordName)
	rrsInput := route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &route53.ChangeBatch{
			Comment: aws.String(changeComment),
			Changes: []*route53.Change{
				{
					Action: aws.String(route53.ChangeActionUpsert),
					ResourceRecordSet: &route53.ResourceRecordSet{
						Name: aws.String(fqdn),
						Type: aws.String(route53.RRTypeA),
						TTL:  aws.Int64(recordTTLSeconds),
						ResourceRecords: []*route53.ResourceRecord{
							{Value: aws.String(ip)},
						},
					},
				},
			},
		},
	}

	if _, err := svc.ChangeResourceRecordSetsWithContext(ctx, &rrsInput); err != nil {
		return fmt.Errorf("failed to upsert route53 record %v with error %v", fqdn, err)
	}

	u.log.Infof("upserted A record %s -> %s in zone %s", fqdn, ip, zoneID)
	return nil
}

func (u *Updater) providerConfig(credentialID uint) (ProviderConfig, error) {
	cred, err := u.creds.GetCredential(credentialID)
	if err != nil {
		return ProviderConfig{}, err
	}
	if !cred.IsActive {
		return ProviderConfig{}, fmt.Errorf("%w: credential %s is inactive", model.ErrInvalidCredential, cred.Name)
	}

	secret, err := u.box.Open(cred.SecretAccessKey)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: credential %s: %v", model.ErrInvalidCredential, cred.Name, err)
	}

	return ProviderConfig{
		AccessKeyID:     cred.AccessKeyID,
		SecretAccessKey: secret,
		Region:          cred.Region,
	}, nil
}

func hostedZoneID(ctx context.Context, svc route53iface.Route53API, zone string) (string, error) {
	want := strings.TrimSuffix(strings.ToLower(zone), ".") + "."

	out, err := svc.ListHostedZonesByNameWithContext(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(want),
		MaxItems: aws.String("1"),
	})
	if err != nil {
		return "", err
	}

	// ListHostedZonesByName starts at the given name in lexicographic order, the first result may be a different zone
	for _, z := range out.HostedZones {
		if strings.ToLower(aws.StringValue(z.Name)) == want {
			return strings.TrimPrefix(aws.StringValue(z.Id), "/hostedzone/"), nil
		}
	}
	return "", fmt.Errorf("%w: %s", model.ErrZoneNotFound, zone)
}

// RecordFQDN returns recordName qualified with zone, unless it already is.
func RecordFQDN(zone, recordName string) string {
	zone = strings.TrimSuffix(zone, ".")
	recordName = strings.TrimSuffix(recordName, ".")
	if recordName == zone || strings.HasSuffix(recordName, "."+zone) {
		return recordName
	}
	return recordName + "." + zone
}
