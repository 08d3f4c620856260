// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	"cloud.google.com/go/iam/apiv1/iampb"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"github.com/avast/retry-go/v4"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ComputeInstancesListPermission is the IAM permission a freshly
	// minted key must hold before it is considered usable.
	ComputeInstancesListPermission = "compute.instances.list"
)

// keyValidationAttempts bounds the wait for service account key
// propagation. Keys are usually usable within a couple of seconds.
var (
	keyValidationAttempts = uint(10)
	keyValidationDelay    = 500 * time.Millisecond
)

// requiredServices are enabled on every onboarded project. Enabling an
// already-enabled service is a no-op on the Google side.
var requiredServices = []string{
	"compute.googleapis.com",
	"cloudbilling.googleapis.com",
}

// ServiceAccountKey mirrors the decoded PrivateKeyData of a service
// account key resource.
// https://cloud.google.com/iam/docs/reference/rest/v1/projects.serviceAccounts.keys#ServiceAccountKey
type ServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// ParseServiceAccountKey decodes key file JSON, rejecting material that
// does not look like a service account key.
func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, status.Errorf(codes.Internal, "error decoding service account key: %s", err)
	}
	if key.Type != "service_account" {
		return nil, status.Errorf(codes.Internal, "unexpected credential type %q in key material", key.Type)
	}
	return &key, nil
}

// ServiceAccountEmail returns the deterministic email for a service
// account named name in the given project.
func ServiceAccountEmail(projectID, name string) string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", name, projectID)
}

// EnsureAPIsEnabled enables the compute and billing APIs for the project.
// Safe to re-run.
func (c *Client) EnsureAPIsEnabled(ctx context.Context, projectID string) error {
	for _, svc := range requiredServices {
		name := fmt.Sprintf("projects/%s/services/%s", projectID, svc)
		_, err := c.serviceUsage.Services.Enable(name, &serviceusage.EnableServiceRequest{}).Context(ctx).Do()
		if err != nil {
			return status.Errorf(codes.Unknown, "error enabling %s on project %s: %s", svc, projectID, err)
		}
		c.logger.Debugw("service enabled", "project", projectID, "service", svc)
	}
	return nil
}

// EnsureServiceAccount returns the email of the onboarding service account
// in the project, creating the account only if it does not already exist.
func (c *Client) EnsureServiceAccount(ctx context.Context, projectID, name string) (string, error) {
	email := ServiceAccountEmail(projectID, name)
	resourceName := fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, email)

	_, err := c.iamAdmin.GetServiceAccount(ctx, &adminpb.GetServiceAccountRequest{Name: resourceName})
	if err == nil {
		c.logger.Debugw("service account already exists", "email", email)
		return email, nil
	}
	if status.Code(err) != codes.NotFound {
		return "", status.Errorf(codes.Unknown, "error looking up service account %s: %s", email, err)
	}

	_, err = c.iamAdmin.CreateServiceAccount(ctx, &adminpb.CreateServiceAccountRequest{
		Name:      "projects/" + projectID,
		AccountId: name,
		ServiceAccount: &adminpb.ServiceAccount{
			DisplayName: "GPUWatch monitoring",
		},
	})
	if err != nil {
		return "", status.Errorf(codes.Unknown, "error creating service account %s: %s", email, err)
	}
	c.logger.Infow("service account created", "email", email)
	return email, nil
}

// GrantRoles binds each role to the service account on the project IAM
// policy. Bindings are strictly additive: existing members and roles are
// never removed.
func (c *Client) GrantRoles(ctx context.Context, projectID, email string, roles []string) error {
	resource := "projects/" + projectID
	member := "serviceAccount:" + email

	policy, err := c.projects.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: resource})
	if err != nil {
		return status.Errorf(codes.Unknown, "error reading IAM policy for %s: %s", resource, err)
	}

	changed := false
	for _, role := range roles {
		if addBinding(policy, role, member) {
			changed = true
		}
	}
	if !changed {
		c.logger.Debugw("all role bindings already present", "project", projectID, "member", member)
		return nil
	}

	if _, err := c.projects.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
		Resource: resource,
		Policy:   policy,
	}); err != nil {
		return status.Errorf(codes.Unknown, "error writing IAM policy for %s: %s", resource, err)
	}
	c.logger.Infow("roles granted", "project", projectID, "member", member, "roles", roles)
	return nil
}

// addBinding adds member under role in policy, returning true when the
// policy was modified.
func addBinding(policy *iampb.Policy, role, member string) bool {
	for _, binding := range policy.Bindings {
		if binding.Role != role {
			continue
		}
		for _, m := range binding.Members {
			if m == member {
				return false
			}
		}
		binding.Members = append(binding.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &iampb.Binding{
		Role:    role,
		Members: []string{member},
	})
	return true
}

// CreateKey mints a new private key for the service account and returns the
// decoded key file JSON. Every call creates a new key; prior keys are never
// revoked, so repeated runs accumulate keys on the Google side. That is the
// documented behavior of this tool, not an accident.
func (c *Client) CreateKey(ctx context.Context, projectID, email string) ([]byte, error) {
	resp, err := c.iamAdmin.CreateServiceAccountKey(ctx, &adminpb.CreateServiceAccountKeyRequest{
		Name:           fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, email),
		PrivateKeyType: adminpb.ServiceAccountPrivateKeyType_TYPE_GOOGLE_CREDENTIALS_FILE,
		KeyAlgorithm:   adminpb.ServiceAccountKeyAlgorithm_KEY_ALG_RSA_2048,
	})
	if err != nil {
		return nil, status.Errorf(codes.Unknown, "error creating service account key: %s", err)
	}
	c.logger.Infow("service account key created", "email", email)
	return resp.PrivateKeyData, nil
}

// ValidateKey waits until a freshly created key is usable by testing the
// compute.instances.list permission against the project. New keys can take
// a moment to propagate, so the check is retried on a fixed delay.
//
// The supplied options default to authenticating with the key itself; tests
// inject options pointing at a fake server.
func (c *Client) ValidateKey(ctx context.Context, projectID string, keyJSON []byte, opts ...option.ClientOption) error {
	if len(opts) == 0 {
		opts = c.keyValidationOpts
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithCredentialsJSON(keyJSON)}
	}

	rmClient, err := resourcemanager.NewProjectsClient(ctx, opts...)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to create Resource Manager client: %v", err)
	}
	defer rmClient.Close()

	return retry.Do(
		func() error {
			resp, err := rmClient.TestIamPermissions(ctx, &iampb.TestIamPermissionsRequest{
				Resource:    "projects/" + projectID,
				Permissions: []string{ComputeInstancesListPermission},
			})
			if err != nil {
				return err
			}
			if len(resp.Permissions) == 0 {
				return status.Error(codes.PermissionDenied, "no permissions granted yet")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(keyValidationAttempts),
		retry.Delay(keyValidationDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func pointer[T any](input T) *T {
	ret := input
	return &ret
}
