package models

import "time"

// Audit actions recorded for authentication and ledger writes.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionTeacherCreate  = "TEACHER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionGrant          = "LEDGER_GRANT"
	AuditActionAmend          = "LEDGER_AMEND"
	AuditActionRemove         = "LEDGER_REMOVE"
	AuditActionImport         = "SNAPSHOT_IMPORT"
	AuditActionRoster         = "ROSTER_WRITE"
	AuditActionCatalog        = "CATALOG_WRITE"
	AuditActionLevels         = "LEVELS_WRITE"
	AuditActionUnlock         = "LEDGER_UNLOCK"
	AuditActionBackup         = "SNAPSHOT_BACKUP"
	AuditActionReload         = "STATE_RELOAD"
	AuditActionRepair         = "STATE_REPAIR"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
