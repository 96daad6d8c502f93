// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

//go:build integration

// Package testinfra starts Docker containers for integration tests.
//
// Tests in this package's consumers run only with the integration build tag
// and skip themselves when Docker is unavailable:
//
//	func TestPostgresStore(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg)
//
//	    store, err := canonical.OpenPostgres(ctx, canonical.PostgresConfig{DSN: pg.DSN})
//	    ...
//	}
package testinfra
