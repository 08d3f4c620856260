// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package onboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gpuwatch/cloud-onboard/internal/backend"
)

// fakeProvisioner serves canned candidates and payloads.
type fakeProvisioner struct {
	candidates   []Candidate
	discoverErr  error
	provisionErr map[string]error
	allowControl bool

	provisioned []string
}

func (f *fakeProvisioner) Discover(ctx context.Context) ([]Candidate, error) {
	return f.candidates, f.discoverErr
}

func (f *fakeProvisioner) Provision(ctx context.Context, id string) (backend.Registration, error) {
	if err := f.provisionErr[id]; err != nil {
		return nil, err
	}
	f.provisioned = append(f.provisioned, id)
	return &backend.GCPRegistration{
		ProjectID:          id,
		AllowControl:       f.allowControl,
		ServiceAccountInfo: json.RawMessage(fmt.Sprintf(`{"client_email":"sa@%s.iam.gserviceaccount.com"}`, id)),
	}, nil
}

func newTestOrchestrator(p Provisioner, backendURL string, selector Selector) (*Orchestrator, *bytes.Buffer) {
	o := New(p, backend.NewClient(backendURL, zap.NewNop().Sugar()), selector, zap.NewNop().Sugar())
	out := &bytes.Buffer{}
	o.out = out
	return o, out
}

func TestRunAutoSelectsGPUProjects(t *testing.T) {
	var registered []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		registered = append(registered, body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{
		candidates: []Candidate{{ID: "proj-a"}, {ID: "proj-b", HasGPU: true}},
	}
	o, _ := newTestOrchestrator(provisioner, ts.URL, nil)

	results, err := o.Run(context.Background(), Options{AutoRun: true, AuthToken: "abc123"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "proj-b", results[0].Candidate)
	require.True(t, results[0].Registered())

	require.Equal(t, []string{"proj-b"}, provisioner.provisioned)
	require.Len(t, registered, 1)
	require.Equal(t, "proj-b", registered[0]["project_id"])
	require.Equal(t, false, registered[0]["allow_control"])
}

func TestRunExplicitSelectionIgnoresDiscovery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{
		candidates:   []Candidate{{ID: "proj-a", HasGPU: true}},
		allowControl: true,
	}
	o, _ := newTestOrchestrator(provisioner, ts.URL, nil)

	results, err := o.Run(context.Background(), Options{
		Explicit:  []string{"proj-x", "proj-y"},
		AuthToken: "abc123",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"proj-x", "proj-y"}, provisioner.provisioned)
}

func TestRunContinuesPastFailedCandidate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{
		provisionErr: map[string]error{"proj-x": errors.New("api disabled")},
	}
	o, _ := newTestOrchestrator(provisioner, ts.URL, nil)

	results, err := o.Run(context.Background(), Options{
		Explicit:  []string{"proj-x", "proj-y"},
		AuthToken: "abc123",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.ErrorContains(t, results[0].Err, "api disabled")
	require.False(t, results[0].Registered())

	require.NoError(t, results[1].Err)
	require.True(t, results[1].Registered())
	require.Equal(t, []string{"proj-y"}, provisioner.provisioned)
}

func TestRunSkipsRegistrationWithoutToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected when registration is skipped")
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{}
	o, out := newTestOrchestrator(provisioner, ts.URL, nil)

	results, err := o.Run(context.Background(), Options{Explicit: []string{"proj-a"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Skipped)
	require.False(t, results[0].Registered())

	// The exact payload is surfaced for manual registration.
	require.Contains(t, out.String(), "/cloud-accounts/gcp")
	require.Contains(t, out.String(), `"project_id": "proj-a"`)

	payload, err := json.Marshal(results[0].Payload)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"project_id":"proj-a"`)
}

func TestRunFailsWithoutCandidates(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeProvisioner{}, "http://127.0.0.1:0", nil)

	_, err := o.Run(context.Background(), Options{AutoRun: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no accessible accounts")
}

func TestRunInteractiveSelection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{
		candidates: []Candidate{{ID: "proj-a"}, {ID: "proj-b", HasGPU: true}, {ID: "proj-c"}},
	}
	o, _ := newTestOrchestrator(provisioner, ts.URL, &scriptedSelector{answer: "1,3"})

	results, err := o.Run(context.Background(), Options{AuthToken: "abc123"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"proj-a", "proj-c"}, provisioner.provisioned)
}

func TestRunRegistrationFailureDoesNotAbortBatch(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("bad token"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	provisioner := &fakeProvisioner{}
	o, _ := newTestOrchestrator(provisioner, ts.URL, nil)

	results, err := o.Run(context.Background(), Options{
		Explicit:  []string{"proj-x", "proj-y"},
		AuthToken: "abc123",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.False(t, results[0].Registered())
	require.Equal(t, http.StatusForbidden, results[0].Outcome.Status)
	require.True(t, results[1].Registered())
}
