// Package postgres implements credential.Store, token.Store and an audit
// sink on PostgreSQL through database/sql and the pgx stdlib driver.
//
// Queries are built with squirrel using dollar placeholders. Multi-statement
// mutations run inside [WithTx]. The schema is embedded and applied with
// goose by [Migrate].
package postgres
