// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/compute/apiv1/computepb"
	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestListAccessibleProjects(t *testing.T) {
	projectsServer := newTestProjectsServer()
	projectsServer.searchProjectsResponse = []*resourcemanagerpb.Project{
		{ProjectId: "proj-a"},
		{ProjectId: "proj-b"},
	}

	gsrv := newGRPCServer()
	resourcemanagerpb.RegisterProjectsServer(gsrv.Server, projectsServer)
	adminpb.RegisterIAMServer(gsrv.Server, newTestIAMAdminServer())
	addr, err := gsrv.start()
	require.NoError(t, err)
	defer gsrv.Stop()

	client := newTestClient(t, addr, "", "")
	ids, err := client.ListAccessibleProjects(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"proj-a", "proj-b"}, ids)
}

func TestListAccessibleProjectsError(t *testing.T) {
	projectsServer := newTestProjectsServer()
	projectsServer.searchProjectsErr = status.Error(codes.PermissionDenied, "caller lacks resourcemanager.projects.list")

	gsrv := newGRPCServer()
	resourcemanagerpb.RegisterProjectsServer(gsrv.Server, projectsServer)
	adminpb.RegisterIAMServer(gsrv.Server, newTestIAMAdminServer())
	addr, err := gsrv.start()
	require.NoError(t, err)
	defer gsrv.Stop()

	client := newTestClient(t, addr, "", "")
	_, err = client.ListAccessibleProjects(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "error listing accessible projects")
}

func TestListAccessibleProjectsEmpty(t *testing.T) {
	projectsServer := newTestProjectsServer()

	gsrv := newGRPCServer()
	resourcemanagerpb.RegisterProjectsServer(gsrv.Server, projectsServer)
	adminpb.RegisterIAMServer(gsrv.Server, newTestIAMAdminServer())
	addr, err := gsrv.start()
	require.NoError(t, err)
	defer gsrv.Stop()

	client := newTestClient(t, addr, "", "")
	ids, err := client.ListAccessibleProjects(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestDetectGPUProjects(t *testing.T) {
	computeServer := newTestComputeServer()
	computeServer.aggregatedListResponses["proj-b"] = &computepb.InstanceAggregatedList{
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
	// proj-a has no matching instances; proj-err fails the probe outright.
	computeServer.aggregatedListErrors["proj-err"] = errors.New("compute API has not been used in project")
	ts := computeServer.start()
	defer computeServer.stop()

	gsrv := newGRPCServer()
	resourcemanagerpb.RegisterProjectsServer(gsrv.Server, newTestProjectsServer())
	adminpb.RegisterIAMServer(gsrv.Server, newTestIAMAdminServer())
	addr, err := gsrv.start()
	require.NoError(t, err)
	defer gsrv.Stop()

	client := newTestClient(t, addr, ts.URL, "")
	hasGPU := client.DetectGPUProjects(context.Background(), []string{"proj-a", "proj-b", "proj-err"})

	require.Equal(t, map[string]bool{
		"proj-a":   false,
		"proj-b":   true,
		"proj-err": false,
	}, hasGPU)
}
