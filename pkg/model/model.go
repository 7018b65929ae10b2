package model

import (
	"time"
)

type SubdomainRequest struct {
	Name         string `json:"name,omitempty" validate:"required,hostname_rfc1123"`
	Domain       string `json:"domain,omitempty" validate:"required,fqdn"`
	CredentialID *uint  `json:"credentialId,omitempty"`
}

type Subdomain struct {
	ID            uint          `json:"id"`
	Name          string        `json:"name"`
	Domain        string        `json:"domain"`
	IPAddress     string        `json:"ipAddress"`
	HasWebServer  bool          `json:"hasWebServer"`
	WebServerType WebServerType `json:"webServerType"`
	SSLStatus     SSLStatus     `json:"sslStatus"`
	SSLExpiryDate *time.Time    `json:"sslExpiryDate,omitempty"`
	DNSConfigured bool          `json:"dnsConfigured"`
	CredentialID  *uint         `json:"credentialId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type WebServerCheck struct {
	HasWebServer bool          `json:"hasWebServer"`
	ServerType   WebServerType `json:"serverType"`
}

type CheckAllResponse struct {
	Message string                    `json:"message,omitempty"`
	Results map[string]WebServerCheck `json:"results"`
	Skipped []string                  `json:"skipped,omitempty"`
}

type IssueResponse struct {
	Message string    `json:"message,omitempty"`
	Status  SSLStatus `json:"status"`
}

type RenewResponse struct {
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type PublicIPResponse struct {
	IPAddress string `json:"ipAddress"`
}

type CredentialRequest struct {
	Name            string `json:"name,omitempty" validate:"required,max=100"`
	AccessKeyID     string `json:"accessKeyId,omitempty" validate:"required"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" validate:"required"`
	Region          string `json:"region,omitempty"`
}

// CredentialUpdateRequest carries a partial update, nil fields are left untouched.
type CredentialUpdateRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	AccessKeyID     *string `json:"accessKeyId,omitempty" validate:"omitempty,min=1"`
	SecretAccessKey *string `json:"secretAccessKey,omitempty" validate:"omitempty,min=1"`
	Region          *string `json:"region,omitempty" validate:"omitempty,min=1"`
	IsActive        *bool   `json:"isActive,omitempty"`
}

type ValidateCredentialRequest struct {
	AccessKeyID     string `json:"accessKeyId,omitempty" validate:"required"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" validate:"required"`
	Region          string `json:"region,omitempty"`
}

type ValidateCredentialResponse struct {
	Valid bool `json:"valid"`
}

// Credential is the API view of a stored credential. The secret never leaves the server.
type Credential struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	AccessKeyID string    `json:"accessKeyId"`
	Region      string    `json:"region"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type MessageResponse struct {
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Status  int         `json:"status,omitempty"`
	Message string      `json:"msg,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
