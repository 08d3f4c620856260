// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"
	"testing"

	compute "cloud.google.com/go/compute/apiv1"
	admin "cloud.google.com/go/iam/admin/apiv1"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/serviceusage/v1"
)

// newTestClient assembles a Client whose gRPC-backed clients talk to a
// local in-process server and whose REST-backed clients talk to local
// httptest servers.
func newTestClient(t *testing.T, grpcAddr, computeURL, usageURL string) *Client {
	t.Helper()
	ctx := context.Background()

	projects, err := resourcemanager.NewProjectsClient(ctx, grpcTestOptions(grpcAddr)...)
	require.NoError(t, err)

	iamAdmin, err := admin.NewIamClient(ctx, grpcTestOptions(grpcAddr)...)
	require.NoError(t, err)

	var instances *compute.InstancesClient
	if computeURL != "" {
		instances, err = compute.NewInstancesRESTClient(ctx, restTestOptions(computeURL)...)
		require.NoError(t, err)
	}

	var usage *serviceusage.Service
	if usageURL != "" {
		usage, err = serviceusage.NewService(ctx, restTestOptions(usageURL)...)
		require.NoError(t, err)
	}

	return &Client{
		projects:     projects,
		instances:    instances,
		iamAdmin:     iamAdmin,
		serviceUsage: usage,
		logger:       zap.NewNop().Sugar(),
	}
}
