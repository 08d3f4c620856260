// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package onboard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gpuwatch/cloud-onboard/internal/azure"
	"github.com/gpuwatch/cloud-onboard/internal/backend"
	"github.com/gpuwatch/cloud-onboard/internal/gcp"
)

// GCPProvisioner sequences the Google Cloud provisioning steps for one
// project: API enablement, service account, role grants, and a fresh key.
// Every step is individually idempotent except key creation, which mints a
// new key per run by design.
type GCPProvisioner struct {
	Client             *gcp.Client
	ServiceAccountName string
	AllowControl       bool
	Logger             *zap.SugaredLogger
}

var _ Provisioner = (*GCPProvisioner)(nil)

func (p *GCPProvisioner) Discover(ctx context.Context) ([]Candidate, error) {
	ids, err := p.Client.ListAccessibleProjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	hasGPU := p.Client.DetectGPUProjects(ctx, ids)
	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, Candidate{ID: id, HasGPU: hasGPU[id]})
	}
	return candidates, nil
}

func (p *GCPProvisioner) Provision(ctx context.Context, projectID string) (backend.Registration, error) {
	if err := p.Client.EnsureAPIsEnabled(ctx, projectID); err != nil {
		return nil, err
	}

	email, err := p.Client.EnsureServiceAccount(ctx, projectID, p.ServiceAccountName)
	if err != nil {
		return nil, err
	}

	if err := p.Client.GrantRoles(ctx, projectID, email, gcp.RolesFor(p.AllowControl)); err != nil {
		return nil, err
	}

	keyData, err := p.Client.CreateKey(ctx, projectID, email)
	if err != nil {
		return nil, err
	}
	key, err := gcp.ParseServiceAccountKey(keyData)
	if err != nil {
		return nil, err
	}

	// The scratch copy on disk lives only until validation finishes and is
	// removed on every exit path; the payload is built from memory.
	keyFile, err := WriteKeyFile(keyData)
	if err != nil {
		return nil, err
	}
	defer keyFile.Remove()

	if err := p.Client.ValidateKey(ctx, projectID, keyData); err != nil {
		return nil, fmt.Errorf("service account key did not become usable: %w", err)
	}
	p.Logger.Infow("service account key ready", "client_email", key.ClientEmail)

	return &backend.GCPRegistration{
		ProjectID:          projectID,
		AllowControl:       p.AllowControl,
		ServiceAccountInfo: keyData,
	}, nil
}

// AzureProvisioner sequences the Azure provisioning steps: resource group,
// then the managed identity template deployment. The subscription bound at
// discovery is the single candidate.
type AzureProvisioner struct {
	Client        *azure.Client
	ResourceGroup string
	Location      string
	AllowControl  bool
	Logger        *zap.SugaredLogger
}

var _ Provisioner = (*AzureProvisioner)(nil)

func (p *AzureProvisioner) Discover(ctx context.Context) ([]Candidate, error) {
	subID, _, err := p.Client.CurrentSubscription(ctx)
	if err != nil {
		return nil, err
	}
	return []Candidate{{ID: subID}}, nil
}

func (p *AzureProvisioner) Provision(ctx context.Context, subscriptionID string) (backend.Registration, error) {
	if err := p.Client.EnsureResourceGroup(ctx, p.ResourceGroup, p.Location); err != nil {
		return nil, err
	}

	identity, err := p.Client.DeployManagedIdentityTemplate(ctx, p.ResourceGroup, p.AllowControl)
	if err != nil {
		return nil, err
	}

	return &backend.AzureRegistration{
		TenantID:       identity.TenantID,
		SubscriptionID: identity.SubscriptionID,
		ClientID:       identity.ClientID,
		AllowControl:   p.AllowControl,
	}, nil
}
