package db

import "gorm.io/gorm"

// ForUpdate returns the row-lock suffix for the connection's dialect.
// SQLite rejects the clause; its connections open with _txlock=immediate, so
// a transaction already holds the database write lock before it reads.
func ForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	switch tx.Dialector.Name() {
	case "sqlite":
		return ""
	default:
		return " FOR UPDATE"
	}
}
