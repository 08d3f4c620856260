// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package onboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// Candidate is a discovered cloud account eligible for onboarding.
type Candidate struct {
	ID     string
	HasGPU bool
}

// Selector resolves the final selection when neither an explicit list nor
// the auto-run rule decided it. The interactive implementation blocks on
// terminal input; tests substitute a scripted one.
type Selector interface {
	Select(candidates []Candidate) ([]string, error)
}

// ResolveSelection applies the selection precedence: an explicit list wins
// outright and is used verbatim; otherwise auto-run picks every GPU-bearing
// candidate, falling back to the first candidate when none has a GPU;
// otherwise the selector is consulted. An empty final selection is an
// error.
func ResolveSelection(explicit []string, autoRun bool, candidates []Candidate, selector Selector) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}

	if autoRun {
		var gpu []string
		for _, c := range candidates {
			if c.HasGPU {
				gpu = append(gpu, c.ID)
			}
		}
		if len(gpu) > 0 {
			return gpu, nil
		}
		if len(candidates) > 0 {
			return []string{candidates[0].ID}, nil
		}
		return nil, fmt.Errorf("no candidates to select from")
	}

	if selector == nil {
		return nil, fmt.Errorf("no selector configured and no explicit selection given")
	}
	selection, err := selector.Select(candidates)
	if err != nil {
		return nil, err
	}
	if len(selection) == 0 {
		return nil, fmt.Errorf("a non-empty selection is required")
	}
	return selection, nil
}

// ParseSelection interprets a comma-separated answer of 1-based indexes or
// literal identifiers against the candidate list. Out-of-range indexes are
// silently dropped; unrecognized text is taken as a literal identifier.
func ParseSelection(answer string, candidates []Candidate) []string {
	var selection []string
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			if idx >= 1 && idx <= len(candidates) {
				selection = append(selection, candidates[idx-1].ID)
			}
			continue
		}
		selection = append(selection, part)
	}
	return selection
}

// SurveySelector prompts on the terminal with a numbered candidate list,
// marking GPU-bearing candidates.
type SurveySelector struct{}

func (SurveySelector) Select(candidates []Candidate) ([]string, error) {
	fmt.Println("Discovered accounts:")
	for i, c := range candidates {
		marker := ""
		if c.HasGPU {
			marker = "  [GPU]"
		}
		fmt.Printf("  %d) %s%s\n", i+1, c.ID, marker)
	}

	var answer string
	prompt := &survey.Input{
		Message: "Accounts to onboard (comma-separated numbers or IDs):",
	}
	if err := survey.AskOne(prompt, &answer); err != nil {
		return nil, fmt.Errorf("reading selection: %w", err)
	}
	return ParseSelection(answer, candidates), nil
}
