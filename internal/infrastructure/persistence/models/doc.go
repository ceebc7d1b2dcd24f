// Package models holds the gorm rows for the ledger and outbox tables and
// their conversions to and from domain types. Domain packages never import
// it; column tags and index definitions live only here, kept in step with
// the SQL under migrations/.
package models
