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
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/models"
)

// ErrNoProfile means the user has not completed the questionnaire, so
// there is nothing to match against.
var ErrNoProfile = errors.New("no mental health profile")

// Store is the persistence surface the service needs.
type Store interface {
	SaveProfile(userID string, profile models.ClusterProfile) error
	GetProfile(userID string) (*models.ClusterProfile, error)
	ListGroups() ([]models.SupportGroup, error)
}

// Cache holds computed recommendation lists between group membership
// changes. A (nil, nil) Get is a miss.
type Cache interface {
	GetRecommendations(ctx context.Context, userID string) ([]models.GroupRecommendation, error)
	SetRecommendations(ctx context.Context, userID string, recs []models.GroupRecommendation) error
	InvalidateRecommendations(ctx context.Context, userID string) error
}

type Service struct {
	store Store
	cache Cache
	log   *logrus.Entry
}

func NewService(store Store, cache Cache, log *logrus.Logger) *Service {
	return &Service{
		store: store,
		cache: cache,
		log:   log.WithField("component", "matching"),
	}
}

// UpdateProfile recomputes the user's cluster profile from questionnaire
// responses, persists it and drops any cached recommendations.
func (s *Service) UpdateProfile(ctx context.Context, userID string, responses map[string]int) (models.ClusterProfile, error) {
	profile := ComputeProfile(responses)
	if err := s.store.SaveProfile(userID, profile); err != nil {
		return models.ClusterProfile{}, fmt.Errorf("failed to save profile: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateRecommendations(ctx, userID); err != nil {
			s.log.WithError(err).Warn("failed to invalidate recommendation cache")
		}
	}
	if profile.RequiresClinicalReview {
		s.log.WithField("user_id", userID).Info("profile flagged for clinical review")
	}
	return profile, nil
}

// Recommendations returns the user's top group matches, serving from
// cache when possible. Cache failures degrade to a fresh computation.
func (s *Service) Recommendations(ctx context.Context, userID string, limit int) ([]models.GroupRecommendation, error) {
	if s.cache != nil {
		cached, err := s.cache.GetRecommendations(ctx, userID)
		if err != nil {
			s.log.WithError(err).Warn("recommendation cache read failed")
		} else if cached != nil {
			if limit > 0 && len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	profile, err := s.store.GetProfile(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrNoProfile
	}

	groups, err := s.store.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	recs := Recommend(*profile, groups, limit)

	if s.cache != nil {
		if err := s.cache.SetRecommendations(ctx, userID, recs); err != nil {
			s.log.WithError(err).Warn("failed to cache recommendations")
		}
	}
	return recs, nil
}
