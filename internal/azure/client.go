// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package azure implements the Azure capability adapter: subscription
// discovery, resource group management, and managed identity provisioning
// through an ARM template deployment.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"go.uber.org/zap"
)

// newCredentialFn builds the token credential chain. Azure CLI credentials
// are preferred; when the CLI is not logged in the chain falls through to
// an interactive browser login, which suspends for user interaction.
var newCredentialFn = func() (azcore.TokenCredential, error) {
	cli, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, fmt.Errorf("building Azure CLI credential: %w", err)
	}
	browser, err := azidentity.NewInteractiveBrowserCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("building interactive browser credential: %w", err)
	}
	return azidentity.NewChainedTokenCredential([]azcore.TokenCredential{cli, browser}, nil)
}

// Client wraps the ARM clients used during onboarding. A Client is bound to
// the subscription resolved by CurrentSubscription.
type Client struct {
	cred           azcore.TokenCredential
	subscriptionID string
	tenantID       string

	// armOptions carries a fake transport in tests.
	armOptions *arm.ClientOptions

	logger *zap.SugaredLogger
}

// NewClient builds a Client. A nil options value targets public Azure;
// tests pass options with a fake transport.
func NewClient(logger *zap.SugaredLogger, options *arm.ClientOptions) (*Client, error) {
	cred, err := newCredentialFn()
	if err != nil {
		return nil, err
	}
	return &Client{
		cred:       cred,
		armOptions: options,
		logger:     logger,
	}, nil
}

// CurrentSubscription resolves the first enabled subscription visible to
// the credential and binds the client to it, returning the subscription and
// tenant IDs.
func (c *Client) CurrentSubscription(ctx context.Context) (string, string, error) {
	subsClient, err := armsubscriptions.NewClient(c.cred, c.armOptions)
	if err != nil {
		return "", "", fmt.Errorf("building subscriptions client: %w", err)
	}

	pager := subsClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", "", fmt.Errorf("listing subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			if sub.State != nil && *sub.State != armsubscriptions.SubscriptionStateEnabled {
				continue
			}
			if sub.SubscriptionID == nil || sub.TenantID == nil {
				continue
			}
			c.subscriptionID = *sub.SubscriptionID
			c.tenantID = *sub.TenantID
			c.logger.Debugw("subscription resolved",
				"subscription_id", c.subscriptionID, "tenant_id", c.tenantID)
			return c.subscriptionID, c.tenantID, nil
		}
	}
	return "", "", fmt.Errorf("no enabled Azure subscription accessible to the signed-in account")
}
