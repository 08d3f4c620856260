// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRolesFor(t *testing.T) {
	tests := []struct {
		name         string
		allowControl bool
		expected     []string
	}{
		{
			name:         "read-only",
			allowControl: false,
			expected:     []string{RoleComputeViewer, RoleBillingViewer},
		},
		{
			name:         "control allowed",
			allowControl: true,
			expected: []string{
				RoleComputeViewer,
				RoleBillingViewer,
				RoleInstanceAdmin,
				RoleStorageAdmin,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, RolesFor(tt.allowControl))
		})
	}
}

func TestServiceAccountEmail(t *testing.T) {
	require.Equal(t,
		"gpuwatch-monitor@proj-a.iam.gserviceaccount.com",
		ServiceAccountEmail("proj-a", "gpuwatch-monitor"))
}
