// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateproxy provides an HTTP forward proxy protected with basic authentication.
// Plain HTTP requests are forwarded through a pooled transport and successful GET responses are cached.
// CONNECT requests are relayed as raw TCP tunnels.
// Proxy credentials are generated on startup and can be persisted to a file.
package gateproxy
