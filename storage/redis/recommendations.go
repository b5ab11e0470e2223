// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taut0logy/Serenite-sub001/models"
)

const (
	// Recommendations go stale as groups fill up, so the cache is short-lived
	RecommendationTTL = 15 * time.Minute

	recommendationPrefix = "match:recs:" // match:recs:{userId}
)

type RecommendationCache struct {
	rdb *redis.Client
}

func NewRecommendationCache(rdb *redis.Client) *RecommendationCache {
	return &RecommendationCache{rdb: rdb}
}

// GetRecommendations returns the cached list, or (nil, nil) on a miss.
func (c *RecommendationCache) GetRecommendations(ctx context.Context, userID string) ([]models.GroupRecommendation, error) {
	data, err := c.rdb.Get(ctx, recommendationPrefix+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recommendation cache: %w", err)
	}

	var recs []models.GroupRecommendation
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}
	return recs, nil
}

func (c *RecommendationCache) SetRecommendations(ctx context.Context, userID string, recs []models.GroupRecommendation) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	if err := c.rdb.Set(ctx, recommendationPrefix+userID, data, RecommendationTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache recommendations: %w", err)
	}
	return nil
}

// InvalidateRecommendations drops the cached list after a profile update.
func (c *RecommendationCache) InvalidateRecommendations(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, recommendationPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate recommendations: %w", err)
	}
	return nil
}
