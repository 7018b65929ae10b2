package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type database struct {
	db *gorm.DB
}

// New creates a new database connection
func New(ctx context.Context, dialect string, dsn string, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}

	var db *gorm.DB
	var err error

	switch dialect {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), config)
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	db = db.WithContext(ctx)

	if err := db.AutoMigrate(
		&Subdomain{},
		&Credential{},
	); err != nil {
		return nil, err
	}

	d := &database{
		db: db,
	}
	return d, nil
}

func (d *database) CreateSubdomain(subdomain *Subdomain) error {
	if subdomain.WebServerType == "" {
		subdomain.WebServerType = model.WebServerUnknown
	}
	if subdomain.SSLStatus == "" {
		subdomain.SSLStatus = model.SSLStatusNone
	}
	if !subdomain.SSLStatus.HasExpiry() {
		subdomain.SSLExpiryDate = nil
	}

	sql := d.db.Create(subdomain)
	if isUniqueViolation(sql.Error) {
		return fmt.Errorf("subdomain %s: %w", subdomain.Name, model.ErrAlreadyExists)
	}
	return sql.Error
}

func (d *database) GetSubdomain(id uint) (Subdomain, error) {
	subdomain := Subdomain{}
	sql := d.db.Where("id = ?", id).Take(&subdomain)
	return subdomain, notFound(sql.Error, "subdomain %d", id)
}

func (d *database) GetSubdomainByName(name string) (Subdomain, error) {
	subdomain := Subdomain{}
	sql := d.db.Where("name = ?", name).Take(&subdomain)
	return subdomain, notFound(sql.Error, "subdomain %s", name)
}

func (d *database) ListSubdomains() ([]Subdomain, error) {
	var subdomains []Subdomain
	sql := d.db.Order("name").Find(&subdomains)
	return subdomains, sql.Error
}

func (d *database) ListSubdomainsBySSLStatus(status model.SSLStatus) ([]Subdomain, error) {
	var subdomains []Subdomain
	sql := d.db.Where("ssl_status = ?", status).Order("name").Find(&subdomains)
	return subdomains, sql.Error
}

// UpdateSubdomainStatus writes the non-nil fields of status in a single statement.
// Moving to a status without an expiry always clears the stored expiry date.
func (d *database) UpdateSubdomainStatus(id uint, status SubdomainStatus) error {
	updates := make(map[string]interface{})
	if status.IPAddress != nil {
		updates["ip_address"] = *status.IPAddress
	}
	if status.HasWebServer != nil {
		updates["has_web_server"] = *status.HasWebServer
	}
	if status.WebServerType != nil {
		if err := status.WebServerType.IsValid(); err != nil {
			return err
		}
		updates["web_server_type"] = *status.WebServerType
	}
	if status.DNSConfigured != nil {
		updates["dns_configured"] = *status.DNSConfigured
	}
	if status.SSLStatus != nil {
		if err := status.SSLStatus.IsValid(); err != nil {
			return err
		}
		updates["ssl_status"] = *status.SSLStatus
		if !status.SSLStatus.HasExpiry() {
			updates["ssl_expiry_date"] = nil
		} else if status.SSLExpiryDate != nil {
			updates["ssl_expiry_date"] = *status.SSLExpiryDate
		}
	} else if status.SSLExpiryDate != nil {
		updates["ssl_expiry_date"] = *status.SSLExpiryDate
	}

	if len(updates) == 0 {
		return nil
	}

	sql := d.db.Model(&Subdomain{}).Where("id = ?", id).Updates(updates)
	if sql.Error != nil {
		return sql.Error
	}
	if sql.RowsAffected == 0 {
		return fmt.Errorf("subdomain %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (d *database) DeleteSubdomain(id uint) error {
	sql := d.db.Where("id = ?", id).Delete(&Subdomain{})
	if sql.Error != nil {
		return sql.Error
	}
	if sql.RowsAffected == 0 {
		return fmt.Errorf("subdomain %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (d *database) CreateCredential(credential *Credential) error {
	sql := d.db.Create(credential)
	if isUniqueViolation(sql.Error) {
		return fmt.Errorf("credential %s: %w", credential.Name, model.ErrAlreadyExists)
	}
	return sql.Error
}

func (d *database) GetCredential(id uint) (Credential, error) {
	credential := Credential{}
	sql := d.db.Where("id = ?", id).Take(&credential)
	return credential, notFound(sql.Error, "credential %d", id)
}

func (d *database) ListCredentials() ([]Credential, error) {
	var credentials []Credential
	sql := d.db.Order("name").Find(&credentials)
	return credentials, sql.Error
}

func (d *database) SaveCredential(credential *Credential) error {
	if credential.ID == 0 {
		return fmt.Errorf("credential has no id: %w", model.ErrNotFound)
	}

	sql := d.db.Save(credential)
	if isUniqueViolation(sql.Error) {
		return fmt.Errorf("credential %s: %w", credential.Name, model.ErrAlreadyExists)
	}
	return sql.Error
}

func (d *database) DeleteCredential(id uint) error {
	sql := d.db.Where("id = ?", id).Delete(&Credential{})
	if sql.Error != nil {
		return sql.Error
	}
	if sql.RowsAffected == 0 {
		return fmt.Errorf("credential %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, model.ErrNotFound)...)
	}
	return err
}

// gorm 1.23 does not translate driver errors, so match on the messages of the two supported dialects.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
