package db

import (
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/model"
)

// Subdomain rows are hard deleted so a released name can be provisioned again.
type Subdomain struct {
	ID            uint                `gorm:"primarykey"`
	Name          string              `gorm:"uniqueIndex;size:253;not null"`
	Domain        string              `gorm:"size:253;not null"`
	IPAddress     string              `gorm:"column:ip_address;size:45"`
	HasWebServer  bool                `gorm:"column:has_web_server"`
	WebServerType model.WebServerType `gorm:"column:web_server_type;size:16;default:unknown"`
	SSLStatus     model.SSLStatus     `gorm:"column:ssl_status;size:16;default:none;index"`
	SSLExpiryDate *time.Time          `gorm:"column:ssl_expiry_date"`
	DNSConfigured bool                `gorm:"column:dns_configured"`
	CredentialID  *uint               // weak reference, no foreign key
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Credential struct {
	ID              uint   `gorm:"primarykey"`
	Name            string `gorm:"uniqueIndex;size:100;not null"`
	AccessKeyID     string `gorm:"size:128;not null"`
	SecretAccessKey string `gorm:"type:text;not null"` // sealed by the secret store
	Region          string `gorm:"size:32;not null;default:us-east-1"`
	IsActive        bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SubdomainStatus is a partial update of the mutable fields of a Subdomain.
// Nil fields are left untouched.
type SubdomainStatus struct {
	IPAddress     *string
	HasWebServer  *bool
	WebServerType *model.WebServerType
	DNSConfigured *bool
	SSLStatus     *model.SSLStatus
	SSLExpiryDate *time.Time
}
