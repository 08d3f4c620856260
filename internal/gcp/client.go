// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package gcp implements the Google Cloud capability adapter: project
// discovery, GPU detection, API enablement, service account and key
// provisioning, and IAM role grants. All raw provider access lives here.
package gcp

import (
	"context"

	compute "cloud.google.com/go/compute/apiv1"
	admin "cloud.google.com/go/iam/admin/apiv1"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// cloudPlatformScope is the OAuth scope required for all operations the
// adapter performs.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// findDefaultCredentialsFn is a function variable that finds the default
// credentials. It exists so tests can substitute credential discovery.
var findDefaultCredentialsFn = func(ctx context.Context, scopes ...string) (*google.Credentials, error) {
	return google.FindDefaultCredentials(ctx, scopes...)
}

// Client wraps the Google Cloud API clients used during onboarding.
//
// When no client options are supplied, Application Default Credentials are
// used. Tests inject options pointing at local fake servers.
type Client struct {
	projects     *resourcemanager.ProjectsClient
	instances    *compute.InstancesClient
	iamAdmin     *admin.IamClient
	serviceUsage *serviceusage.Service

	// keyValidationOpts, when set, replaces the key-derived credentials
	// used by ValidateKey. Set only by test harnesses.
	keyValidationOpts []option.ClientOption

	logger *zap.SugaredLogger
}

// NewClient builds a Client. The supplied options are passed to every
// underlying API client; when none are given, Application Default
// Credentials are resolved once and shared.
func NewClient(ctx context.Context, logger *zap.SugaredLogger, opts ...option.ClientOption) (*Client, error) {
	if len(opts) == 0 {
		creds, err := findDefaultCredentialsFn(ctx, cloudPlatformScope)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "failed to find default credentials: %v", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	projects, err := resourcemanager.NewProjectsClient(ctx, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "error creating Resource Manager client: %v", err)
	}

	instances, err := compute.NewInstancesRESTClient(ctx, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "error creating Compute client: %v", err)
	}

	iamAdmin, err := admin.NewIamClient(ctx, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "error creating IAM client: %v", err)
	}

	usage, err := serviceusage.NewService(ctx, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "error creating Service Usage client: %v", err)
	}

	return &Client{
		projects:     projects,
		instances:    instances,
		iamAdmin:     iamAdmin,
		serviceUsage: usage,
		logger:       logger,
	}, nil
}

// Close releases the underlying API client connections.
func (c *Client) Close() error {
	var firstErr error
	for _, closer := range []interface{ Close() error }{c.projects, c.instances, c.iamAdmin} {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
