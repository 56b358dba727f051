// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package models defines the core data types shared between the broker,
// the device agent, and the dashboard view model: device sessions, motion
// alerts, frame envelopes, and derived server statistics.
package models
