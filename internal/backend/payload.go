// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package backend

import "encoding/json"

// Registration is a provider-shaped payload accepted by the backend
// cloud-accounts API.
type Registration interface {
	// Endpoint is the backend path the payload is POSTed to.
	Endpoint() string

	// AccountID identifies the onboarded account in operator output.
	AccountID() string
}

// GCPRegistration registers a Google Cloud project.
type GCPRegistration struct {
	ProjectID    string `json:"project_id"`
	AllowControl bool   `json:"allow_control"`

	// ServiceAccountInfo is the provider key file JSON, passed through
	// opaquely.
	ServiceAccountInfo json.RawMessage `json:"service_account_info"`
}

func (r *GCPRegistration) Endpoint() string  { return "/cloud-accounts/gcp" }
func (r *GCPRegistration) AccountID() string { return r.ProjectID }

// AzureRegistration registers an Azure subscription via its managed
// identity. The identity itself is the credential, so no key material is
// carried.
type AzureRegistration struct {
	TenantID       string `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
	ClientID       string `json:"client_id"`
	AllowControl   bool   `json:"allow_control"`
}

func (r *AzureRegistration) Endpoint() string  { return "/cloud-accounts/azure" }
func (r *AzureRegistration) AccountID() string { return r.SubscriptionID }
