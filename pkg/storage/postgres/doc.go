// Package postgres opens the PostgreSQL pool and Redis client the billing
// services share, and applies the embedded schema migrations.
package postgres
