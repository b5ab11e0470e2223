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

package main

import (
	"database/sql"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/handlers"
	"github.com/taut0logy/Serenite-sub001/matching"
	"github.com/taut0logy/Serenite-sub001/middleware"
	"github.com/taut0logy/Serenite-sub001/storage/postgres"
	redisStore "github.com/taut0logy/Serenite-sub001/storage/redis"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost/serenite?sslmode=disable"
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	store := postgres.NewStore(db)
	if err := store.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	recCache := redisStore.NewRecommendationCache(rdb)
	matchService := matching.NewService(store, recCache, log)

	keyHandler := handlers.NewKeyHandler(store, log)
	groupKeyHandler := handlers.NewGroupKeyHandler(store, log)
	matchHandler := handlers.NewMatchHandler(matchService, log)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "serenite"
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtSecret, jwtIssuer)

	r := mux.NewRouter()
	r.Use(middleware.CORS)

	api := r.PathPrefix("/api/e2e").Subrouter()
	api.Use(authMiddleware)

	// Public key registry
	api.HandleFunc("/keys/public", keyHandler.RegisterPublicKey).Methods("POST")
	api.HandleFunc("/keys/public/batch", keyHandler.GetPublicKeys).Methods("POST")

	// Wrapped group key bundles
	api.HandleFunc("/groups/{group_id}/keys", groupKeyHandler.PublishGroupKeys).Methods("POST")
	api.HandleFunc("/groups/{group_id}/keys/{user_id}", groupKeyHandler.GetGroupKey).Methods("GET")

	// Group matching
	match := r.PathPrefix("/api/match").Subrouter()
	match.Use(authMiddleware)
	match.HandleFunc("/profile", matchHandler.UpdateProfile).Methods("POST")
	match.HandleFunc("/recommendations", matchHandler.GetRecommendations).Methods("GET")

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	log.WithFields(logrus.Fields{
		"port":   port,
		"issuer": jwtIssuer,
	}).Info("key distribution server starting")

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.WithError(err).Fatal("server failed to start")
	}
}
