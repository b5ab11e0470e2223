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

package matching

import (
	"math"
	"sort"

	"github.com/taut0logy/Serenite-sub001/models"
)

// CosineSimilarity compares two cluster vectors, returning a value in
// [0, 1]. Cluster scores are non-negative so the result never goes below
// zero. A zero vector on either side yields 0.
func CosineSimilarity(a, b [5]float64) float64 {
	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	magnitude := math.Sqrt(magA) * math.Sqrt(magB)
	if magnitude == 0 {
		return 0
	}
	return dot / magnitude
}

// Recommend scores support groups against a user profile and returns the
// top matches. Groups that are full or whose severity range excludes the
// user are filtered out before scoring. Results are ordered by match
// score descending; ties keep the input order so repeated calls over the
// same group list are deterministic.
func Recommend(profile models.ClusterProfile, groups []models.SupportGroup, limit int) []models.GroupRecommendation {
	userVec := profile.Vector()
	userRank := profile.OverallSeverity.Rank()

	recs := make([]models.GroupRecommendation, 0, len(groups))
	for _, g := range groups {
		if g.MemberCount >= g.MaxMembers {
			continue
		}
		if userRank < g.MinSeverity.Rank() || userRank > g.MaxSeverity.Rank() {
			continue
		}
		similarity := CosineSimilarity(userVec, g.TargetVector())
		recs = append(recs, models.GroupRecommendation{
			GroupID:     g.GroupID,
			Name:        g.Name,
			MatchScore:  int(math.Round(similarity * 100)),
			MemberCount: g.MemberCount,
			MaxMembers:  g.MaxMembers,
			Similarity:  similarity,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].MatchScore > recs[j].MatchScore
	})

	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
