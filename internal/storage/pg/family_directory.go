package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/carebridge/notify/internal/notify"
)

// FamilyDirectory resolves family membership from the shared application
// database. The member table is owned by the case-management surface; the
// pipeline only reads it.
type FamilyDirectory struct {
	db *sql.DB
}

// NewFamilyDirectory wraps the shared pool.
func NewFamilyDirectory(db *Database) *FamilyDirectory {
	return &FamilyDirectory{db: db.DB}
}

// ListMembers returns every member of the family.
func (d *FamilyDirectory) ListMembers(ctx context.Context, familyID string) ([]notify.FamilyMember, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, name, email_address
		FROM family_members WHERE family_id = $1`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	defer rows.Close()

	var members []notify.FamilyMember
	for rows.Next() {
		var m notify.FamilyMember
		if err := rows.Scan(&m.UserID, &m.Name, &m.EmailAddress); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
