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

	"github.com/taut0logy/Serenite-sub001/models"
)

func (s *Store) SaveProfile(userID string, profile models.ClusterProfile) error {
	_, err := s.db.Exec(`
		INSERT INTO mental_health_profiles
			(user_id, distress, fear_avoidance, trauma_stress, cognitive_patterns,
			 daily_functioning, overall_severity, requires_clinical_review, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET distress = $2, fear_avoidance = $3, trauma_stress = $4,
			cognitive_patterns = $5, daily_functioning = $6,
			overall_severity = $7, requires_clinical_review = $8, updated_at = $9`,
		userID, profile.Distress, profile.FearAvoidance, profile.TraumaStress,
		profile.CognitivePatterns, profile.DailyFunctioning,
		string(profile.OverallSeverity), profile.RequiresClinicalReview, time.Now())
	return err
}

func (s *Store) GetProfile(userID string) (*models.ClusterProfile, error) {
	profile := &models.ClusterProfile{}
	var severity string
	err := s.db.QueryRow(`
		SELECT distress, fear_avoidance, trauma_stress, cognitive_patterns,
			   daily_functioning, overall_severity, requires_clinical_review, updated_at
		FROM mental_health_profiles
		WHERE user_id = $1`, userID).Scan(
		&profile.Distress, &profile.FearAvoidance, &profile.TraumaStress,
		&profile.CognitivePatterns, &profile.DailyFunctioning,
		&severity, &profile.RequiresClinicalReview, &profile.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile.OverallSeverity = models.SeverityLevel(severity)
	return profile, nil
}

func (s *Store) ListGroups() ([]models.SupportGroup, error) {
	rows, err := s.db.Query(`
		SELECT g.group_id, g.name, g.target_distress, g.target_fear_avoidance,
			   g.target_trauma_stress, g.target_cognitive_patterns,
			   g.target_daily_functioning, g.min_severity, g.max_severity,
			   g.max_members, COUNT(m.user_id) AS member_count
		FROM support_groups g
		LEFT JOIN group_members m ON m.group_id = g.group_id
		GROUP BY g.group_id
		ORDER BY g.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.SupportGroup
	for rows.Next() {
		var g models.SupportGroup
		var minSev, maxSev string
		if err := rows.Scan(
			&g.GroupID, &g.Name, &g.TargetDistress, &g.TargetFearAvoidance,
			&g.TargetTraumaStress, &g.TargetCognitivePatterns,
			&g.TargetDailyFunctioning, &minSev, &maxSev,
			&g.MaxMembers, &g.MemberCount); err != nil {
			return nil, err
		}
		g.MinSeverity = models.SeverityLevel(minSev)
		g.MaxSeverity = models.SeverityLevel(maxSev)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) IsGroupMember(groupID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM group_members
		WHERE group_id = $1 AND user_id = $2`,
		groupID, userID).Scan(&count)
	return count > 0, err
}

func (s *Store) GetGroupMembers(groupID string) ([]models.GroupMember, error) {
	rows, err := s.db.Query(`
		SELECT m.user_id, COALESCE(k.public_key, ''), m.joined_at
		FROM group_members m
		LEFT JOIN public_keys k ON k.user_id = m.user_id
		WHERE m.group_id = $1
		ORDER BY m.joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.UserID, &m.PublicKey, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
