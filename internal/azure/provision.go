// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package azure

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/mitchellh/mapstructure"
)

//go:embed template.json
var identityTemplateJSON []byte

// deploymentName identifies the ARM deployment in the resource group.
// Re-running the deployment with the same name updates it in place.
const deploymentName = "gpuwatch-managed-identity"

// identityName is the name of the user-assigned managed identity the
// template provisions.
const identityName = "gpuwatch-monitor"

// Identity is the result of provisioning the managed identity: the identity
// reference itself is the credential, so there is no key material.
type Identity struct {
	ClientID       string
	PrincipalID    string
	ResourceID     string
	TenantID       string
	SubscriptionID string
}

// EnsureResourceGroup creates the resource group if it does not already
// exist. CreateOrUpdate is idempotent on the Azure side.
func (c *Client) EnsureResourceGroup(ctx context.Context, name, location string) error {
	rgClient, err := armresources.NewResourceGroupsClient(c.subscriptionID, c.cred, c.armOptions)
	if err != nil {
		return fmt.Errorf("building resource groups client: %w", err)
	}

	_, err = rgClient.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return fmt.Errorf("creating resource group %s: %w", name, err)
	}
	c.logger.Infow("resource group ready", "resource_group", name, "location", location)
	return nil
}

// DeployManagedIdentityTemplate runs the embedded ARM template in the
// resource group. The template provisions a user-assigned managed identity
// and binds Reader always, plus Virtual Machine Contributor when control is
// allowed; the exact role set lives in the template, not in this code. The
// deployment blocks until Azure reports a terminal state.
func (c *Client) DeployManagedIdentityTemplate(ctx context.Context, resourceGroup string, allowControl bool) (*Identity, error) {
	var template map[string]any
	if err := json.Unmarshal(identityTemplateJSON, &template); err != nil {
		return nil, fmt.Errorf("parsing embedded identity template: %w", err)
	}

	deployClient, err := armresources.NewDeploymentsClient(c.subscriptionID, c.cred, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("building deployments client: %w", err)
	}

	poller, err := deployClient.BeginCreateOrUpdate(ctx, resourceGroup, deploymentName, armresources.Deployment{
		Properties: &armresources.DeploymentProperties{
			Template: template,
			Parameters: map[string]any{
				"identityName": map[string]any{"value": identityName},
				"allowControl": map[string]any{"value": allowControl},
			},
			Mode: to.Ptr(armresources.DeploymentModeIncremental),
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("starting identity deployment: %w", err)
	}

	result, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("identity deployment failed: %w", err)
	}
	if result.Properties == nil {
		return nil, fmt.Errorf("deployment %s returned no properties", deploymentName)
	}

	identity, err := decodeDeploymentOutputs(result.Properties.Outputs)
	if err != nil {
		return nil, err
	}
	identity.SubscriptionID = c.subscriptionID
	if identity.TenantID == "" {
		identity.TenantID = c.tenantID
	}
	c.logger.Infow("managed identity deployed",
		"resource_group", resourceGroup, "client_id", identity.ClientID, "allow_control", allowControl)
	return identity, nil
}

// deploymentOutputs mirrors the outputs section of the template as returned
// by the deployments API: a map of {name: {type, value}}.
type deploymentOutputs struct {
	ClientID    outputValue `mapstructure:"clientId"`
	PrincipalID outputValue `mapstructure:"principalId"`
	ResourceID  outputValue `mapstructure:"resourceId"`
	TenantID    outputValue `mapstructure:"tenantId"`
}

type outputValue struct {
	Value string `mapstructure:"value"`
}

func decodeDeploymentOutputs(raw any) (*Identity, error) {
	var outputs deploymentOutputs
	if err := mapstructure.Decode(raw, &outputs); err != nil {
		return nil, fmt.Errorf("decoding deployment outputs: %w", err)
	}
	if outputs.ClientID.Value == "" {
		return nil, fmt.Errorf("deployment returned no clientId output")
	}
	return &Identity{
		ClientID:    outputs.ClientID.Value,
		PrincipalID: outputs.PrincipalID.Value,
		ResourceID:  outputs.ResourceID.Value,
		TenantID:    outputs.TenantID.Value,
	}, nil
}
