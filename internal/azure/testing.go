// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package azure

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"go.uber.org/zap"
)

type testCredential struct{}

func (testCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "fake-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// TestTransport answers every request with a canned JSON body while
// recording the requests it saw.
type TestTransport struct {
	Status int
	Body   string

	Requests []*http.Request
}

func (t *TestTransport) Do(req *http.Request) (*http.Response, error) {
	t.Requests = append(t.Requests, req)
	return &http.Response{
		StatusCode: t.Status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(t.Body))),
		Request:    req,
	}, nil
}

// NewTestClient returns a Client bound to subscription sub-1 in tenant-1
// whose requests are served by transport.
func NewTestClient(transport *TestTransport) *Client {
	return &Client{
		cred:           testCredential{},
		subscriptionID: "sub-1",
		tenantID:       "tenant-1",
		armOptions: &arm.ClientOptions{
			ClientOptions: policy.ClientOptions{Transport: transport},
		},
		logger: zap.NewNop().Sugar(),
	}
}
