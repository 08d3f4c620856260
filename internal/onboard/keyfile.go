// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package onboard

import (
	"fmt"
	"os"
)

// KeyFile holds service account key material on disk for the shortest
// possible lifetime. The file is created mode 0600 under the system temp
// directory and must be removed on every exit path; callers defer Remove
// immediately after a successful write.
type KeyFile struct {
	Path string
}

// WriteKeyFile stores the key material in a fresh temp file.
func WriteKeyFile(data []byte) (*KeyFile, error) {
	f, err := os.CreateTemp("", "gpuwatch-key-*.json")
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("closing key file: %w", err)
	}
	return &KeyFile{Path: f.Name()}, nil
}

// Remove deletes the key file. Safe to call more than once.
func (k *KeyFile) Remove() {
	_ = os.Remove(k.Path)
}
