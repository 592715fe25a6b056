// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package log

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// RotatableFile is a log file that is reopened on SIGHUP,
// this allows logrotate to move the file away without restarting the process.
type RotatableFile struct {
	f       atomic.Pointer[os.File]
	sig     chan os.Signal
	done    chan struct{}
	once    sync.Once
	keepOld time.Duration
}

func NewRotatableFile(f *os.File) *RotatableFile {
	w := &RotatableFile{
		sig:     make(chan os.Signal, 1),
		done:    make(chan struct{}),
		keepOld: 5 * time.Second,
	}
	w.f.Store(f)

	signal.Notify(w.sig, syscall.SIGHUP)
	go w.watch()

	return w
}

func (w *RotatableFile) Write(p []byte) (n int, err error) {
	return w.f.Load().Write(p)
}

// Reopen opens the file by name and swaps it with the current one.
// The old file is closed with a delay so that in-flight writes complete.
func (w *RotatableFile) Reopen() error {
	nf, err := os.OpenFile(w.f.Load().Name(), DefaultFileFlags, DefaultFileMode)
	if err != nil {
		return err
	}
	old := w.f.Swap(nf)

	time.AfterFunc(w.keepOld, func() {
		if err := old.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close old log file: %v\n", err)
		}
	})

	return nil
}

func (w *RotatableFile) Close() error {
	w.once.Do(func() {
		signal.Stop(w.sig)
		close(w.done)
	})
	return w.f.Load().Close()
}

func (w *RotatableFile) watch() {
	for {
		select {
		case <-w.done:
			return
		case <-w.sig:
			if err := w.Reopen(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
			}
		}
	}
}
