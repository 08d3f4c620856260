// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gpuwatch/cloud-onboard/internal/azure"
	"github.com/gpuwatch/cloud-onboard/internal/backend"
	"github.com/gpuwatch/cloud-onboard/internal/config"
	"github.com/gpuwatch/cloud-onboard/internal/gcp"
	"github.com/gpuwatch/cloud-onboard/internal/logging"
	"github.com/gpuwatch/cloud-onboard/internal/onboard"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "onboard",
		Short:         "onboard - connect cloud accounts to GPUWatch cost and GPU monitoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("backend-url", config.DefaultBackendURL, "GPUWatch backend base URL")
	flags.Bool("allow-control", false, "additionally grant instance control permissions (start/stop/resize)")
	flags.Bool("auto-run", false, "select GPU-bearing accounts without prompting")
	flags.String("auth-token", "", "bearer token for backend registration")
	flags.String("token-id", "", "one-time token identifier to exchange for an auth token")
	flags.Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(newGCPCmd(), newAzureCmd())
	return rootCmd
}

func newGCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcp",
		Short: "Onboard Google Cloud projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := config.Load(config.ProviderGCP, cmd.Flags())
			if err != nil {
				return err
			}
			return runGCP(cmd, req)
		},
	}
	cmd.Flags().String("projects", "", "comma-separated project IDs to onboard (skips discovery-based selection)")
	cmd.Flags().String("sa-name", config.DefaultServiceAccountName, "name of the service account to provision")
	return cmd
}

func newAzureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "azure",
		Short: "Onboard the current Azure subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := config.Load(config.ProviderAzure, cmd.Flags())
			if err != nil {
				return err
			}
			return runAzure(cmd, req)
		},
	}
	cmd.Flags().String("resource-group", config.DefaultResourceGroup, "resource group for the monitoring identity")
	cmd.Flags().String("location", config.DefaultLocation, "Azure location for the resource group")
	return cmd
}

func runGCP(cmd *cobra.Command, req *config.Request) error {
	ctx := cmd.Context()
	logger, flush := logging.New(req.Verbose)
	defer flush()

	backendClient := backend.NewClient(req.BackendURL, logger)
	authToken, err := resolveAuthToken(cmd, req, backendClient)
	if err != nil {
		return err
	}

	client, err := gcp.NewClient(ctx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	provisioner := &onboard.GCPProvisioner{
		Client:             client,
		ServiceAccountName: req.ServiceAccountName,
		AllowControl:       req.AllowControl,
		Logger:             logger,
	}
	orchestrator := onboard.New(provisioner, backendClient, onboard.SurveySelector{}, logger)

	results, err := orchestrator.Run(ctx, onboard.Options{
		Explicit:  req.Projects,
		AutoRun:   req.AutoRun,
		AuthToken: authToken,
	})
	if err != nil {
		return err
	}
	reportResults(logger, results)
	return nil
}

func runAzure(cmd *cobra.Command, req *config.Request) error {
	ctx := cmd.Context()
	logger, flush := logging.New(req.Verbose)
	defer flush()

	backendClient := backend.NewClient(req.BackendURL, logger)
	authToken, err := resolveAuthToken(cmd, req, backendClient)
	if err != nil {
		return err
	}

	client, err := azure.NewClient(logger, nil)
	if err != nil {
		return err
	}

	provisioner := &onboard.AzureProvisioner{
		Client:        client,
		ResourceGroup: req.ResourceGroup,
		Location:      req.Location,
		AllowControl:  req.AllowControl,
		Logger:        logger,
	}
	// The current subscription is the only candidate; auto-run avoids a
	// pointless prompt.
	orchestrator := onboard.New(provisioner, backendClient, nil, logger)

	results, err := orchestrator.Run(ctx, onboard.Options{
		AutoRun:   true,
		AuthToken: authToken,
	})
	if err != nil {
		return err
	}
	reportResults(logger, results)

	// The Azure flow onboards a single subscription; a failed registration
	// fails the run.
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
		if r.Outcome != nil && !r.Outcome.Success {
			return fmt.Errorf("registration failed with status %d, response body kept at %s",
				r.Outcome.Status, r.Outcome.BodyPath)
		}
	}
	return nil
}

// resolveAuthToken prefers an explicit auth token; otherwise, when a
// one-time token ID was given, it is exchanged (possibly retargeting the
// backend client). In interactive runs the operator is prompted as a last
// resort. No token at all means registration will be skipped.
func resolveAuthToken(cmd *cobra.Command, req *config.Request, backendClient *backend.Client) (string, error) {
	if req.AuthToken != "" {
		return req.AuthToken, nil
	}
	if req.TokenID != "" {
		result, err := backendClient.ExchangeToken(cmd.Context(), req.TokenID)
		if err != nil {
			return "", err
		}
		return result.Token, nil
	}
	if req.AutoRun {
		return "", nil
	}

	var token string
	prompt := &survey.Input{
		Message: "Auth token (leave empty to print payloads for manual registration):",
	}
	if err := survey.AskOne(prompt, &token); err != nil {
		return "", fmt.Errorf("reading auth token: %w", err)
	}
	return token, nil
}

func reportResults(logger *zap.SugaredLogger, results []*onboard.Result) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			logger.Warnw("candidate failed", "candidate", r.Candidate, "error", r.Err)
		case r.Skipped:
			logger.Infow("registration skipped, manual payload printed", "candidate", r.Candidate)
		case r.Registered():
			logger.Infow("candidate onboarded", "candidate", r.Candidate)
		default:
			logger.Warnw("registration rejected",
				"candidate", r.Candidate, "status", r.Outcome.Status, "body", r.Outcome.BodyPath)
		}
	}
}
