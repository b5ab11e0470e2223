// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/taut0logy/Serenite-sub001/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SavePublicKey(key models.UserPublicKey) error {
	_, err := s.db.Exec(`
		INSERT INTO public_keys (user_id, public_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET public_key = $2, created_at = $3`,
		key.UserID, key.PublicKey, time.Now())
	return err
}

func (s *Store) GetPublicKey(userID string) (*models.UserPublicKey, error) {
	key := &models.UserPublicKey{UserID: userID}
	err := s.db.QueryRow(`
		SELECT public_key, created_at FROM public_keys
		WHERE user_id = $1`, userID).Scan(&key.PublicKey, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Store) GetPublicKeys(userIDs []string) ([]models.UserPublicKey, error) {
	rows, err := s.db.Query(`
		SELECT user_id, public_key, created_at FROM public_keys
		WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]models.UserPublicKey, 0, len(userIDs))
	for rows.Next() {
		var key models.UserPublicKey
		if err := rows.Scan(&key.UserID, &key.PublicKey, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
