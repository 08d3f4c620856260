// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package onboard drives the onboarding sequence: discovery, selection,
// per-candidate provisioning, and backend registration. The sequence is
// strictly forward and strictly sequential; a provisioning failure for one
// candidate never blocks the rest of the batch.
package onboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/gpuwatch/cloud-onboard/internal/backend"
)

// Provisioner is the uniform provider surface the orchestrator drives,
// regardless of cloud.
type Provisioner interface {
	// Discover lists the accounts the run could onboard.
	Discover(ctx context.Context) ([]Candidate, error)

	// Provision grants access for one candidate and returns the payload
	// that registers it.
	Provision(ctx context.Context, candidateID string) (backend.Registration, error)
}

// Options configures one orchestrator run.
type Options struct {
	// Explicit, when non-empty, is used as the selection verbatim.
	Explicit []string

	// AutoRun selects GPU-bearing candidates without prompting.
	AutoRun bool

	// AuthToken authorizes registration; empty skips it.
	AuthToken string
}

// Result records what happened to one candidate.
type Result struct {
	Candidate string

	// Payload is the registration payload built from provisioning. Nil
	// when provisioning failed.
	Payload backend.Registration

	// Outcome is nil when registration was skipped or never reached.
	Outcome *backend.Outcome

	// Skipped is true when no auth token was available.
	Skipped bool

	// Err is the provisioning or transport error for this candidate.
	Err error
}

// Registered reports whether the backend accepted the candidate.
func (r *Result) Registered() bool {
	return r.Outcome != nil && r.Outcome.Success
}

// Orchestrator runs the onboarding sequence for one provider.
type Orchestrator struct {
	provisioner Provisioner
	backend     *backend.Client
	selector    Selector
	logger      *zap.SugaredLogger

	// out receives operator-facing output (manual registration payloads).
	out io.Writer
}

// New builds an Orchestrator. A nil selector disables interactive
// selection.
func New(p Provisioner, bc *backend.Client, selector Selector, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		provisioner: p,
		backend:     bc,
		selector:    selector,
		logger:      logger,
		out:         os.Stdout,
	}
}

// Run executes discovery, selection, and the per-candidate provisioning and
// registration loop. It returns one Result per selected candidate. An error
// return means a precondition failed before any candidate was processed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) ([]*Result, error) {
	candidates, err := o.provisioner.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if len(candidates) == 0 && len(opts.Explicit) == 0 {
		return nil, fmt.Errorf("no accessible accounts found for the active credentials")
	}
	o.logger.Infow("discovery complete", "candidates", len(candidates))

	selection, err := ResolveSelection(opts.Explicit, opts.AutoRun, candidates, o.selector)
	if err != nil {
		return nil, err
	}
	o.logger.Infow("selection resolved", "selected", selection)

	results := make([]*Result, 0, len(selection))
	for _, id := range selection {
		results = append(results, o.processCandidate(ctx, id, opts.AuthToken))
	}
	return results, nil
}

func (o *Orchestrator) processCandidate(ctx context.Context, id, authToken string) *Result {
	result := &Result{Candidate: id}

	payload, err := o.provisioner.Provision(ctx, id)
	if err != nil {
		o.logger.Errorw("provisioning failed", "candidate", id, "error", err)
		result.Err = err
		return result
	}
	result.Payload = payload

	if authToken == "" {
		result.Skipped = true
		o.printManualInstructions(payload)
		return result
	}

	outcome, err := o.backend.Register(ctx, authToken, payload)
	if err != nil {
		o.logger.Errorw("registration request failed", "candidate", id, "error", err)
		result.Err = err
		return result
	}
	result.Outcome = outcome
	return result
}

// printManualInstructions surfaces the exact payload so the operator can
// complete registration out-of-band.
func (o *Orchestrator) printManualInstructions(payload backend.Registration) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		o.logger.Errorw("failed to render payload", "error", err)
		return
	}
	fmt.Fprintf(o.out, "\nNo auth token available; registration skipped for %s.\n", payload.AccountID())
	fmt.Fprintf(o.out, "To register manually, POST this payload to %s%s with an Authorization: Bearer header:\n%s\n",
		o.backend.BaseURL(), payload.Endpoint(), body)
}
