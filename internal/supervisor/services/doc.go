// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package services adapts propfix components to suture.Service.
//
// HTTPServerService wraps the metrics listener; JobService runs a repair or
// restore job once and reports its result. The WAL retry loop and backup
// retention implement suture.Service themselves and need no wrapper.
package services
