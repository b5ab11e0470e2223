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

// Package matching computes transdiagnostic symptom-cluster profiles from
// questionnaire responses and scores support groups against them. Scoring
// follows the HiTOP framework: raw answers aggregate into clinical
// domains, domains normalize and combine into five cluster dimensions.
package matching

import (
	"math"
	"strings"
	"time"

	"github.com/taut0logy/Serenite-sub001/models"
)

// domainOf maps a question ID prefix to its clinical domain. Question IDs
// follow the pattern <prefix><n>, e.g. dep3, trauma7, func5.
func domainOf(questionID string) string {
	switch {
	case strings.HasPrefix(questionID, "dep"):
		return "depression"
	case strings.HasPrefix(questionID, "anx"):
		return "anxiety"
	case strings.HasPrefix(questionID, "trauma"):
		return "ptsd"
	case strings.HasPrefix(questionID, "social"):
		return "social_anxiety"
	case strings.HasPrefix(questionID, "cog"):
		return "cognitive_distortion"
	case strings.HasPrefix(questionID, "self"):
		return "self_esteem"
	case questionID == "func1", questionID == "func2", questionID == "func3", questionID == "func4":
		return "functional_impairment"
	case questionID == "func5", questionID == "func6", questionID == "func7", questionID == "func8":
		return "sleep_disruption"
	default:
		return ""
	}
}

type severityCutoff struct {
	min, max int
	level    models.SeverityLevel
}

type domainConfig struct {
	max      int
	cutoffs  []severityCutoff
	reversed bool
}

// Cutoffs mirror validated screening instruments (PHQ-9 and GAD-7 style
// bands for depression/anxiety, PCL-style bands for PTSD).
var domainConfigs = map[string]domainConfig{
	"depression": {
		max: 21,
		cutoffs: []severityCutoff{
			{0, 4, models.SeverityMinimal},
			{5, 9, models.SeverityMild},
			{10, 14, models.SeverityModerate},
			{15, 21, models.SeveritySevere},
		},
	},
	"anxiety": {
		max: 21,
		cutoffs: []severityCutoff{
			{0, 4, models.SeverityMinimal},
			{5, 9, models.SeverityMild},
			{10, 14, models.SeverityModerate},
			{15, 21, models.SeveritySevere},
		},
	},
	"ptsd": {
		max: 21,
		cutoffs: []severityCutoff{
			{0, 7, models.SeverityMinimal},
			{8, 12, models.SeverityMild},
			{13, 17, models.SeverityModerate},
			{18, 21, models.SeveritySevere},
		},
	},
	"social_anxiety": {
		max: 21,
		cutoffs: []severityCutoff{
			{0, 7, models.SeverityMinimal},
			{8, 12, models.SeverityMild},
			{13, 17, models.SeverityModerate},
			{18, 21, models.SeveritySevere},
		},
	},
	"cognitive_distortion": {
		max: 21,
		cutoffs: []severityCutoff{
			{0, 7, models.SeverityMinimal},
			{8, 12, models.SeverityMild},
			{13, 17, models.SeverityModerate},
			{18, 21, models.SeveritySevere},
		},
	},
	// Higher raw score means better self-esteem, so both the normalized
	// value and the severity bands run the other way.
	"self_esteem": {
		max:      21,
		reversed: true,
		cutoffs: []severityCutoff{
			{17, 21, models.SeverityMinimal},
			{12, 16, models.SeverityMild},
			{7, 11, models.SeverityModerate},
			{0, 6, models.SeveritySevere},
		},
	},
	"sleep_disruption": {
		max: 12,
		cutoffs: []severityCutoff{
			{0, 3, models.SeverityMinimal},
			{4, 6, models.SeverityMild},
			{7, 9, models.SeverityModerate},
			{10, 12, models.SeveritySevere},
		},
	},
	"functional_impairment": {
		max: 12,
		cutoffs: []severityCutoff{
			{0, 3, models.SeverityMinimal},
			{4, 6, models.SeverityMild},
			{7, 9, models.SeverityModerate},
			{10, 12, models.SeveritySevere},
		},
	},
}

type clusterWeight struct {
	domain string
	weight float64
}

var clusterWeights = map[string][]clusterWeight{
	"distress":          {{"depression", 0.6}, {"self_esteem", 0.4}},
	"fearAvoidance":     {{"anxiety", 0.5}, {"social_anxiety", 0.5}},
	"traumaStress":      {{"ptsd", 1.0}},
	"cognitivePatterns": {{"cognitive_distortion", 1.0}},
	"dailyFunctioning":  {{"sleep_disruption", 0.5}, {"functional_impairment", 0.5}},
}

// ComputeProfile aggregates questionnaire responses into a cluster
// profile. Unknown question IDs are ignored. Overall severity is the
// highest domain severity; the clinical review flag is raised for two or
// more severe domains, or severe PTSD alone.
func ComputeProfile(responses map[string]int) models.ClusterProfile {
	domainScores := make(map[string]int, len(domainConfigs))
	for domain := range domainConfigs {
		domainScores[domain] = 0
	}
	for questionID, score := range responses {
		domain := domainOf(questionID)
		if _, ok := domainScores[domain]; ok {
			domainScores[domain] += score
		}
	}

	normalized := make(map[string]float64, len(domainScores))
	for domain, score := range domainScores {
		cfg := domainConfigs[domain]
		value := float64(score) / float64(cfg.max)
		if cfg.reversed {
			value = 1 - value
		}
		normalized[domain] = clamp01(value)
	}

	clusters := make(map[string]float64, len(clusterWeights))
	for cluster, weights := range clusterWeights {
		var score float64
		for _, w := range weights {
			score += normalized[w.domain] * w.weight
		}
		clusters[cluster] = math.Round(score*1000) / 1000
	}

	overall := models.SeverityMinimal
	severeCount := 0
	for domain, score := range domainScores {
		level := classifySeverity(score, domainConfigs[domain].cutoffs)
		if level.Rank() > overall.Rank() {
			overall = level
		}
		if level == models.SeveritySevere {
			severeCount++
		}
	}
	ptsdSeverity := classifySeverity(domainScores["ptsd"], domainConfigs["ptsd"].cutoffs)

	return models.ClusterProfile{
		Distress:               clusters["distress"],
		FearAvoidance:          clusters["fearAvoidance"],
		TraumaStress:           clusters["traumaStress"],
		CognitivePatterns:      clusters["cognitivePatterns"],
		DailyFunctioning:       clusters["dailyFunctioning"],
		OverallSeverity:        overall,
		RequiresClinicalReview: severeCount >= 2 || ptsdSeverity == models.SeveritySevere,
		UpdatedAt:              time.Now().UTC(),
	}
}

func classifySeverity(score int, cutoffs []severityCutoff) models.SeverityLevel {
	for _, c := range cutoffs {
		if score >= c.min && score <= c.max {
			return c.level
		}
	}
	return models.SeverityMinimal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
