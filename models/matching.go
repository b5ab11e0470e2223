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

package models

import (
	"time"
)

// SeverityLevel classifies a domain or overall score against validated
// clinical cutoffs.
type SeverityLevel string

const (
	SeverityMinimal  SeverityLevel = "MINIMAL"
	SeverityMild     SeverityLevel = "MILD"
	SeverityModerate SeverityLevel = "MODERATE"
	SeveritySevere   SeverityLevel = "SEVERE"
)

// severityOrder ranks levels for range checks and max aggregation.
var severityOrder = map[SeverityLevel]int{
	SeverityMinimal:  0,
	SeverityMild:     1,
	SeverityModerate: 2,
	SeveritySevere:   3,
}

// Rank returns the ordinal position of the level, -1 for unknown values.
func (s SeverityLevel) Rank() int {
	if r, ok := severityOrder[s]; ok {
		return r
	}
	return -1
}

// ClusterProfile holds the five transdiagnostic symptom cluster scores
// (0..1 each) computed from questionnaire responses, plus the derived
// overall severity and clinical review flag.
type ClusterProfile struct {
	UserID                 string        `json:"user_id" db:"user_id"`
	Distress               float64       `json:"distress" db:"distress"`
	FearAvoidance          float64       `json:"fear_avoidance" db:"fear_avoidance"`
	TraumaStress           float64       `json:"trauma_stress" db:"trauma_stress"`
	CognitivePatterns      float64       `json:"cognitive_patterns" db:"cognitive_patterns"`
	DailyFunctioning       float64       `json:"daily_functioning" db:"daily_functioning"`
	OverallSeverity        SeverityLevel `json:"overall_severity" db:"overall_severity"`
	RequiresClinicalReview bool          `json:"requires_clinical_review" db:"requires_clinical_review"`
	UpdatedAt              time.Time     `json:"updated_at" db:"updated_at"`
}

// Vector returns the cluster scores in their canonical order for
// similarity scoring.
func (p ClusterProfile) Vector() [5]float64 {
	return [5]float64{p.Distress, p.FearAvoidance, p.TraumaStress, p.CognitivePatterns, p.DailyFunctioning}
}

// SupportGroup is a peer-support group with a target cluster vector, an
// admitted severity range and a member capacity.
type SupportGroup struct {
	GroupID                 string        `json:"group_id" db:"group_id"`
	Name                    string        `json:"name" db:"name"`
	TargetDistress          float64       `json:"target_distress" db:"target_distress"`
	TargetFearAvoidance     float64       `json:"target_fear_avoidance" db:"target_fear_avoidance"`
	TargetTraumaStress      float64       `json:"target_trauma_stress" db:"target_trauma_stress"`
	TargetCognitivePatterns float64       `json:"target_cognitive_patterns" db:"target_cognitive_patterns"`
	TargetDailyFunctioning  float64       `json:"target_daily_functioning" db:"target_daily_functioning"`
	MinSeverity             SeverityLevel `json:"min_severity" db:"min_severity"`
	MaxSeverity             SeverityLevel `json:"max_severity" db:"max_severity"`
	MaxMembers              int           `json:"max_members" db:"max_members"`
	MemberCount             int           `json:"member_count" db:"member_count"`
}

// TargetVector returns the group's target cluster scores in canonical order.
func (g SupportGroup) TargetVector() [5]float64 {
	return [5]float64{g.TargetDistress, g.TargetFearAvoidance, g.TargetTraumaStress, g.TargetCognitivePatterns, g.TargetDailyFunctioning}
}

// GroupRecommendation is one scored match between a user profile and a
// support group.
type GroupRecommendation struct {
	GroupID     string  `json:"group_id"`
	Name        string  `json:"name"`
	MatchScore  int     `json:"match_score"` // 0-100
	MemberCount int     `json:"member_count"`
	MaxMembers  int     `json:"max_members"`
	Similarity  float64 `json:"similarity"`
}
