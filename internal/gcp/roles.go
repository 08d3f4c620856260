// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

const (
	// RoleComputeViewer allows read-only inspection of compute resources.
	RoleComputeViewer = "roles/compute.viewer"

	// RoleBillingViewer allows read-only inspection of billing data.
	RoleBillingViewer = "roles/billing.viewer"

	// RoleInstanceAdmin allows mutation of compute instances
	// (start/stop/resize). Only granted when control is allowed.
	RoleInstanceAdmin = "roles/compute.instanceAdmin.v1"

	// RoleStorageAdmin allows management of storage resources. Only
	// granted when control is allowed.
	RoleStorageAdmin = "roles/storage.admin"
)

// RolesFor returns the exact IAM role set to grant for a project.
// The read-only roles are always included; the control roles are added
// only when allowControl is true. No other combination is ever produced.
func RolesFor(allowControl bool) []string {
	roles := []string{RoleComputeViewer, RoleBillingViewer}
	if allowControl {
		roles = append(roles, RoleInstanceAdmin, RoleStorageAdmin)
	}
	return roles
}
