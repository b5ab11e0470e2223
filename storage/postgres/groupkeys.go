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
	"github.com/taut0logy/Serenite-sub001/storage"
)

const pqUniqueViolation = "23505"

func (s *Store) SaveGroupKeyBundles(publish models.GroupKeyPublish, wrapperID, wrapperPublicKey string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, wrapped := range publish.EncryptedKeys {
		_, err = tx.Exec(`
			INSERT INTO group_key_bundles
				(group_id, key_version, user_id, encrypted_key, wrapper_id, wrapper_public_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			publish.GroupID, publish.KeyVersion, wrapped.UserID,
			wrapped.EncryptedKey, wrapperID, wrapperPublicKey, now)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
				return storage.ErrVersionExists
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetGroupKeyBundle(groupID, userID string) (*models.GroupKeyBundle, error) {
	bundle := &models.GroupKeyBundle{GroupID: groupID}
	err := s.db.QueryRow(`
		SELECT key_version, encrypted_key, wrapper_public_key, created_at
		FROM group_key_bundles
		WHERE group_id = $1 AND user_id = $2
		ORDER BY key_version DESC LIMIT 1`,
		groupID, userID).Scan(
		&bundle.KeyVersion, &bundle.WrappedKey, &bundle.WrapperPublicKey, &bundle.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *Store) GetLatestKeyVersion(groupID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(key_version) FROM group_key_bundles
		WHERE group_id = $1`, groupID).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
