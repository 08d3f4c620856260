// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"

	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cloud.google.com/go/compute/apiv1/computepb"
)

// acceleratorFilter matches instances that carry at least one GPU.
const acceleratorFilter = "guestAccelerators[].acceleratorCount>0"

// ListAccessibleProjects returns the IDs of every active project the
// caller's credentials can see. An empty result is returned as-is; the
// caller treats it as a terminal condition.
func (c *Client) ListAccessibleProjects(ctx context.Context) ([]string, error) {
	var ids []string
	it := c.projects.SearchProjects(ctx, &resourcemanagerpb.SearchProjectsRequest{
		Query: "state:ACTIVE",
	})
	for {
		proj, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Unknown, "error listing accessible projects: %s", err)
		}
		ids = append(ids, proj.GetProjectId())
	}
	return ids, nil
}

// DetectGPUProjects probes each project for at least one instance with an
// attached accelerator and returns the set of project IDs where one was
// found. A probe failure (commonly a disabled Compute API) marks the
// project as having no GPU rather than aborting the run.
func (c *Client) DetectGPUProjects(ctx context.Context, projectIDs []string) map[string]bool {
	hasGPU := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		found, err := c.projectHasGPUInstance(ctx, id)
		if err != nil {
			c.logger.Debugw("GPU probe failed, assuming no GPUs", "project", id, "error", err)
			hasGPU[id] = false
			continue
		}
		hasGPU[id] = found
	}
	return hasGPU
}

func (c *Client) projectHasGPUInstance(ctx context.Context, projectID string) (bool, error) {
	it := c.instances.AggregatedList(ctx, &computepb.AggregatedListInstancesRequest{
		Project:    projectID,
		Filter:     pointer(acceleratorFilter),
		MaxResults: pointer(uint32(1)),
	})
	for {
		pair, err := it.Next()
		if err == iterator.Done {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(pair.Value.GetInstances()) > 0 {
			return true, nil
		}
	}
}
