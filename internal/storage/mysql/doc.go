// Package mysql persists history cache payloads in a MySQL key-value table.
// The schema is managed by embedded migrations under deploy/migrations.
package mysql
