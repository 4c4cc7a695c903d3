package repo

import (
	"context"
	"strings"

	"github.com/BuzzLyutic/collab-tracker/internal/model"
)

type PreferenceRepo struct {
	db DBTX
}

func NewPreferenceRepo(db DBTX) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

// Get returns only the rows the user has stored; the matrix treats the rest
// as enabled.
func (r *PreferenceRepo) Get(ctx context.Context, userID int64) (model.PreferenceMatrix, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_type, in_app, email FROM notification_preferences WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(model.PreferenceMatrix)
	for rows.Next() {
		var p model.Preference
		if err := rows.Scan(&p.EventType, &p.InApp, &p.Email); err != nil {
			return nil, err
		}
		m[p.EventType] = p
	}
	return m, rows.Err()
}

func (r *PreferenceRepo) Upsert(ctx context.Context, userID int64, p model.Preference) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, event_type, in_app, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, event_type) DO UPDATE SET in_app = EXCLUDED.in_app, email = EXCLUDED.email
	`, userID, p.EventType, p.InApp, p.Email)
	return mapError(err)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
