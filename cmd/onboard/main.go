// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// onboard connects a Google Cloud or Azure account to the GPUWatch
// backend: it discovers eligible accounts, provisions a least-privilege
// identity, and registers the credential.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
