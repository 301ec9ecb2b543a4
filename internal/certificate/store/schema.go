package store

import _ "embed"

// Schema is the DDL for the certificate tables. Deployments apply it through
// their migration tooling; integration tests apply it to a fresh database.
//
//go:embed schema.sql
var Schema string
