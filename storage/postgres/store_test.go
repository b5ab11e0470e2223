// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPublicKeysSingleQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	now := time.Now()
	userIDs := []string{"alice", "bob", "ghost"}
	mock.ExpectQuery(`SELECT user_id, public_key, created_at FROM public_keys`).
		WithArgs(pq.Array(userIDs)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "public_key", "created_at"}).
			AddRow("alice", "keyA", now).
			AddRow("bob", "keyB", now))

	keys, err := store.GetPublicKeys(userIDs)
	require.NoError(t, err)
	require.Len(t, keys, 2, "unregistered users are simply absent")
	assert.Equal(t, "alice", keys[0].UserID)
	assert.Equal(t, "keyA", keys[0].PublicKey)
	assert.Equal(t, "bob", keys[1].UserID)

	// The whole batch is one round trip, not one query per user
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPublicKeysEmptyResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery(`SELECT user_id, public_key, created_at FROM public_keys`).
		WithArgs(pq.Array([]string{"ghost"})).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "public_key", "created_at"}))

	keys, err := store.GetPublicKeys([]string{"ghost"})
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
