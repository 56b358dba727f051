// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package protocol defines the JSON event protocol spoken over the
// persistent device and dashboard websocket connections.
//
// Every event travels in the same envelope:
//
//	{"type": "<event>", "data": {...}}
//
// The inbound path keeps the payload raw so connection handlers can
// dispatch on the type and decode lazily. Payload structs carry
// `validate` tags enforced on decode; an event that fails validation is
// rejected before any broker state is touched.
package protocol
