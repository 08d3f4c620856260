// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	admin "cloud.google.com/go/iam/admin/apiv1"
	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	"cloud.google.com/go/iam/apiv1/iampb"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// testIAMAdminServer fakes the IAM admin API. Service accounts are keyed by
// resource name.
type testIAMAdminServer struct {
	adminpb.UnimplementedIAMServer

	mu       sync.Mutex
	accounts map[string]*adminpb.ServiceAccount

	createServiceAccountCalls      int
	testCreateServiceAccountErr    error
	testCreateServiceAccountKey    *adminpb.ServiceAccountKey
	testCreateServiceAccountKeyErr error
}

func newTestIAMAdminServer() *testIAMAdminServer {
	return &testIAMAdminServer{accounts: make(map[string]*adminpb.ServiceAccount)}
}

func (f *testIAMAdminServer) GetServiceAccount(ctx context.Context, req *adminpb.GetServiceAccountRequest) (*adminpb.ServiceAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sa, ok := f.accounts[req.Name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "service account %s not found", req.Name)
	}
	return sa, nil
}

func (f *testIAMAdminServer) CreateServiceAccount(ctx context.Context, req *adminpb.CreateServiceAccountRequest) (*adminpb.ServiceAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createServiceAccountCalls++
	if f.testCreateServiceAccountErr != nil {
		return nil, f.testCreateServiceAccountErr
	}
	projectID := strings.TrimPrefix(req.Name, "projects/")
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", req.AccountId, projectID)
	sa := &adminpb.ServiceAccount{
		Name:        fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, email),
		ProjectId:   projectID,
		Email:       email,
		DisplayName: req.GetServiceAccount().GetDisplayName(),
	}
	f.accounts[sa.Name] = sa
	return sa, nil
}

func (f *testIAMAdminServer) CreateServiceAccountKey(ctx context.Context, req *adminpb.CreateServiceAccountKeyRequest) (*adminpb.ServiceAccountKey, error) {
	if f.testCreateServiceAccountKeyErr != nil {
		return nil, f.testCreateServiceAccountKeyErr
	}
	if f.testCreateServiceAccountKey != nil {
		return f.testCreateServiceAccountKey, nil
	}
	email := req.Name[strings.LastIndex(req.Name, "/")+1:]
	keyJSON := fmt.Sprintf(`{"type":"service_account","private_key_id":"test-private-key-id","client_email":"%s"}`, email)
	return &adminpb.ServiceAccountKey{
		Name:           req.Name + "/keys/test-private-key-id",
		PrivateKeyData: []byte(keyJSON),
	}, nil
}

// testProjectsServer fakes the Resource Manager projects API, including the
// project IAM policy.
type testProjectsServer struct {
	resourcemanagerpb.UnimplementedProjectsServer

	mu sync.Mutex

	searchProjectsResponse []*resourcemanagerpb.Project
	searchProjectsErr      error

	policy       *iampb.Policy
	getPolicyErr error
	setPolicyErr error

	testIamPermissionsResponse *iampb.TestIamPermissionsResponse
	testIamPermissionsErr      error
	testIamPermissionsCalls    int
}

func newTestProjectsServer() *testProjectsServer {
	return &testProjectsServer{policy: &iampb.Policy{}}
}

func (f *testProjectsServer) SearchProjects(ctx context.Context, req *resourcemanagerpb.SearchProjectsRequest) (*resourcemanagerpb.SearchProjectsResponse, error) {
	if f.searchProjectsErr != nil {
		return nil, f.searchProjectsErr
	}
	return &resourcemanagerpb.SearchProjectsResponse{Projects: f.searchProjectsResponse}, nil
}

func (f *testProjectsServer) GetIamPolicy(ctx context.Context, req *iampb.GetIamPolicyRequest) (*iampb.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getPolicyErr != nil {
		return nil, f.getPolicyErr
	}
	return f.policy, nil
}

func (f *testProjectsServer) SetIamPolicy(ctx context.Context, req *iampb.SetIamPolicyRequest) (*iampb.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setPolicyErr != nil {
		return nil, f.setPolicyErr
	}
	f.policy = req.Policy
	return f.policy, nil
}

func (f *testProjectsServer) TestIamPermissions(ctx context.Context, req *iampb.TestIamPermissionsRequest) (*iampb.TestIamPermissionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testIamPermissionsCalls++
	if f.testIamPermissionsErr != nil {
		return nil, f.testIamPermissionsErr
	}
	return f.testIamPermissionsResponse, nil
}

type grpcServer struct {
	*grpc.Server
}

func newGRPCServer() *grpcServer {
	return &grpcServer{Server: grpc.NewServer()}
}

func (s *grpcServer) start() (string, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen: %v", err)
	}
	go func() {
		if err := s.Serve(l); err != nil {
			panic(err)
		}
	}()
	return l.Addr().String(), nil
}

// testComputeServer fakes the compute REST API for aggregated instance
// listing. Responses are keyed by project ID.
type testComputeServer struct {
	server *httptest.Server

	aggregatedListResponses map[string]*computepb.InstanceAggregatedList
	aggregatedListErrors    map[string]error
}

func newTestComputeServer() *testComputeServer {
	return &testComputeServer{
		aggregatedListResponses: make(map[string]*computepb.InstanceAggregatedList),
		aggregatedListErrors:    make(map[string]error),
	}
}

func (s *testComputeServer) start() *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/aggregated/instances") {
			http.Error(w, "unknown path: "+r.URL.Path, http.StatusNotFound)
			return
		}
		project := projectFromPath(r.URL.Path)
		if err, ok := s.aggregatedListErrors[project]; ok {
			http.Error(w, "error listing instances: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp, ok := s.aggregatedListResponses[project]
		if !ok {
			resp = &computepb.InstanceAggregatedList{}
		}
		b, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, "unable to marshal response: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(b)
	}))
	s.server = ts
	return ts
}

func (s *testComputeServer) stop() {
	s.server.Close()
}

// projectFromPath extracts the project from a compute URL of the form
// /compute/v1/projects/{project}/aggregated/instances.
func projectFromPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// testServiceUsageServer fakes the service usage REST API, recording which
// services were enabled.
type testServiceUsageServer struct {
	server *httptest.Server

	mu      sync.Mutex
	enabled []string
	err     error
}

func (s *testServiceUsageServer) start() *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			http.Error(w, s.err.Error(), http.StatusForbidden)
			return
		}
		// POST /v1/projects/{p}/services/{s}:enable
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/"), ":enable")
		s.enabled = append(s.enabled, name)
		_, _ = w.Write([]byte(`{"done": true}`))
	}))
	s.server = ts
	return ts
}

func (s *testServiceUsageServer) stop() {
	s.server.Close()
}

func grpcTestOptions(addr string) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithTokenSource(nil),
	}
}

func restTestOptions(url string) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(url),
		option.WithoutAuthentication(),
	}
}

// TestHarness wires a Client to in-process fake servers so tests in other
// packages can drive the full provisioning sequence. Key validation is
// pointed at the fake Resource Manager server.
type TestHarness struct {
	Client *Client

	iamAdmin *testIAMAdminServer
	projects *testProjectsServer
	compute  *testComputeServer
	usage    *testServiceUsageServer
	grpcSrv  *grpcServer
}

func NewTestHarness() (*TestHarness, error) {
	h := &TestHarness{
		iamAdmin: newTestIAMAdminServer(),
		projects: newTestProjectsServer(),
		compute:  newTestComputeServer(),
		usage:    &testServiceUsageServer{},
		grpcSrv:  newGRPCServer(),
	}
	adminpb.RegisterIAMServer(h.grpcSrv.Server, h.iamAdmin)
	resourcemanagerpb.RegisterProjectsServer(h.grpcSrv.Server, h.projects)
	addr, err := h.grpcSrv.start()
	if err != nil {
		return nil, err
	}
	computeTS := h.compute.start()
	usageTS := h.usage.start()

	ctx := context.Background()
	projects, err := resourcemanager.NewProjectsClient(ctx, grpcTestOptions(addr)...)
	if err != nil {
		return nil, err
	}
	iamAdmin, err := admin.NewIamClient(ctx, grpcTestOptions(addr)...)
	if err != nil {
		return nil, err
	}
	instances, err := compute.NewInstancesRESTClient(ctx, restTestOptions(computeTS.URL)...)
	if err != nil {
		return nil, err
	}
	usage, err := serviceusage.NewService(ctx, restTestOptions(usageTS.URL)...)
	if err != nil {
		return nil, err
	}

	h.Client = &Client{
		projects:          projects,
		instances:         instances,
		iamAdmin:          iamAdmin,
		serviceUsage:      usage,
		keyValidationOpts: grpcTestOptions(addr),
		logger:            zap.NewNop().Sugar(),
	}
	return h, nil
}

func (h *TestHarness) Close() {
	h.grpcSrv.Stop()
	h.compute.stop()
	h.usage.stop()
}

// SetProjects seeds the accessible project list.
func (h *TestHarness) SetProjects(ids ...string) {
	var projects []*resourcemanagerpb.Project
	for _, id := range ids {
		projects = append(projects, &resourcemanagerpb.Project{ProjectId: id})
	}
	h.projects.searchProjectsResponse = projects
}

// AddGPUInstance makes the GPU probe find an instance in the project.
func (h *TestHarness) AddGPUInstance(projectID string) {
	h.compute.aggregatedListResponses[projectID] = &computepb.InstanceAggregatedList{
		Items: map[string]*computepb.InstancesScopedList{
			"zones/us-central1-a": {
				Instances: []*computepb.Instance{
					{
						Id:   pointer(uint64(1)),
						Name: pointer("gpu-node-0"),
					},
				},
			},
		},
	}
}

// AllowKeyUse makes key validation succeed immediately.
func (h *TestHarness) AllowKeyUse() {
	h.projects.testIamPermissionsResponse = &iampb.TestIamPermissionsResponse{
		Permissions: []string{ComputeInstancesListPermission},
	}
}

// DenyKeyUse makes key validation report no usable permissions, as for a
// key that never propagates.
func (h *TestHarness) DenyKeyUse() {
	h.projects.testIamPermissionsResponse = &iampb.TestIamPermissionsResponse{}
}

// SetKeyValidationLimits shortens the key propagation wait. The returned
// func restores the previous limits.
func (h *TestHarness) SetKeyValidationLimits(attempts uint, delay time.Duration) func() {
	origAttempts, origDelay := keyValidationAttempts, keyValidationDelay
	keyValidationAttempts, keyValidationDelay = attempts, delay
	return func() {
		keyValidationAttempts, keyValidationDelay = origAttempts, origDelay
	}
}

// RoleBindings returns the roles bound to member on the project policy.
func (h *TestHarness) RoleBindings(member string) []string {
	h.projects.mu.Lock()
	defer h.projects.mu.Unlock()
	var roles []string
	for _, binding := range h.projects.policy.Bindings {
		for _, m := range binding.Members {
			if m == member {
				roles = append(roles, binding.Role)
			}
		}
	}
	return roles
}

// EnabledServices returns the service names enabled so far, in order.
func (h *TestHarness) EnabledServices() []string {
	h.usage.mu.Lock()
	defer h.usage.mu.Unlock()
	return h.usage.enabled
}

// CreateServiceAccountCalls counts CreateServiceAccount requests served.
func (h *TestHarness) CreateServiceAccountCalls() int {
	h.iamAdmin.mu.Lock()
	defer h.iamAdmin.mu.Unlock()
	return h.iamAdmin.createServiceAccountCalls
}
