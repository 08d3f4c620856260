// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config assembles the onboarding request once at startup from a
// fixed precedence chain: defaults, then environment variables, then
// explicit command-line flags. Nothing reads configuration piecemeal later.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gpuwatch/cloud-onboard/internal/backend"
)

// Provider selects which cloud the run onboards.
type Provider string

const (
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Defaults applied when neither environment nor flags say otherwise.
const (
	DefaultBackendURL         = backend.DefaultURL
	DefaultServiceAccountName = "gpuwatch-monitor"
	DefaultResourceGroup      = "gpuwatch-monitoring"
	DefaultLocation           = "eastus"
)

// Request is the configuration for one onboarding run, captured once.
type Request struct {
	Provider Provider

	BackendURL   string
	AllowControl bool
	AutoRun      bool

	// Projects is the explicit GCP candidate list. Empty means discover.
	Projects           []string
	ServiceAccountName string

	// ResourceGroup and Location apply to Azure runs.
	ResourceGroup string
	Location      string

	// AuthToken authorizes registration. Empty means registration is
	// skipped, not failed.
	AuthToken string

	// TokenID, when set, is exchanged for an auth token (and possibly a
	// backend URL) before anything else happens.
	TokenID string

	Verbose bool
}

// envBindings maps viper keys to their environment variable overrides.
var envBindings = map[string]string{
	"backend_url":    "BACKEND_URL",
	"allow_control":  "ALLOW_CONTROL",
	"projects":       "PROJECT_IDS",
	"resource_group": "RESOURCE_GROUP",
	"auto_run":       "AUTO_RUN",
	"auth_token":     "AUTH_TOKEN",
	"sa_name":        "SA_NAME",
	"location":       "LOCATION",
	"token_id":       "TOKEN_ID",
}

// flagBindings maps viper keys to flag names. Only flags that exist on the
// given set are bound, so the gcp and azure commands can expose different
// surfaces.
var flagBindings = map[string]string{
	"backend_url":    "backend-url",
	"allow_control":  "allow-control",
	"projects":       "projects",
	"resource_group": "resource-group",
	"auto_run":       "auto-run",
	"auth_token":     "auth-token",
	"sa_name":        "sa-name",
	"location":       "location",
	"token_id":       "token-id",
	"verbose":        "verbose",
}

// Load builds the Request for one run. Flag values win over environment
// variables, which win over defaults.
func Load(provider Provider, flags *pflag.FlagSet) (*Request, error) {
	v := viper.New()

	v.SetDefault("backend_url", DefaultBackendURL)
	v.SetDefault("sa_name", DefaultServiceAccountName)
	v.SetDefault("resource_group", DefaultResourceGroup)
	v.SetDefault("location", DefaultLocation)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	for key, name := range flagBindings {
		if flag := flags.Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}

	req := &Request{
		Provider:           provider,
		BackendURL:         strings.TrimRight(v.GetString("backend_url"), "/"),
		AllowControl:       v.GetBool("allow_control"),
		AutoRun:            v.GetBool("auto_run"),
		Projects:           splitList(v.GetString("projects")),
		ServiceAccountName: v.GetString("sa_name"),
		ResourceGroup:      v.GetString("resource_group"),
		Location:           v.GetString("location"),
		AuthToken:          v.GetString("auth_token"),
		TokenID:            v.GetString("token_id"),
		Verbose:            v.GetBool("verbose"),
	}
	if req.BackendURL == "" {
		return nil, fmt.Errorf("backend URL must not be empty")
	}
	return req, nil
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
