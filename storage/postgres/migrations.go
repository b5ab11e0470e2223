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

func (s *Store) Migrate() error {
	migrations := []string{
		// Registered X25519 public keys, one per user
		`CREATE TABLE IF NOT EXISTS public_keys (
			user_id VARCHAR(255) PRIMARY KEY,
			public_key TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Wrapped group keys, one row per (group, version, recipient).
		// The server only ever sees wrapped ciphertext.
		`CREATE TABLE IF NOT EXISTS group_key_bundles (
			group_id VARCHAR(255) NOT NULL,
			key_version INTEGER NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			encrypted_key TEXT NOT NULL,
			wrapper_id VARCHAR(255) NOT NULL,
			wrapper_public_key TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, key_version, user_id)
		)`,

		// Index for latest-version lookup per recipient
		`CREATE INDEX IF NOT EXISTS idx_group_key_lookup
		ON group_key_bundles(group_id, user_id, key_version DESC)`,

		// Support groups with their target cluster profile and capacity
		`CREATE TABLE IF NOT EXISTS support_groups (
			group_id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			target_distress DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_fear_avoidance DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_trauma_stress DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_cognitive_patterns DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_daily_functioning DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_severity VARCHAR(10) NOT NULL DEFAULT 'MINIMAL',
			max_severity VARCHAR(10) NOT NULL DEFAULT 'SEVERE',
			max_members INTEGER NOT NULL DEFAULT 12,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Group membership
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES support_groups(group_id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_user_groups
		ON group_members(user_id, group_id)`,

		// Cluster profiles computed client-side from the questionnaire.
		// Only the five aggregate scores are stored, never raw answers.
		`CREATE TABLE IF NOT EXISTS mental_health_profiles (
			user_id VARCHAR(255) PRIMARY KEY,
			distress DOUBLE PRECISION NOT NULL,
			fear_avoidance DOUBLE PRECISION NOT NULL,
			trauma_stress DOUBLE PRECISION NOT NULL,
			cognitive_patterns DOUBLE PRECISION NOT NULL,
			daily_functioning DOUBLE PRECISION NOT NULL,
			overall_severity VARCHAR(10) NOT NULL,
			requires_clinical_review BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
