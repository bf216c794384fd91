package database

import (
	"context"
	"os"
	"testing"

	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/jason-s-yu/teamlobby/internal/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestPostgresRepository needs a scratch database; it truncates every table it touches.
func TestPostgresRepository(t *testing.T) {
	if os.Getenv("PG_HOST") == "" {
		t.Skip("PG_HOST not set; skipping postgres integration test")
	}
	cfg := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Host:     os.Getenv("PG_HOST"),
		Port:     os.Getenv("PG_PORT"),
		Database: os.Getenv("PG_DATABASE"),
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		ctx := context.Background()
		repo, err := ConnectDB(ctx, cfg, logrus.New())
		require.NoError(t, err)
		_, err = repo.pool.Exec(ctx, `TRUNCATE lobby_players, teams, lobbies`)
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestPostgresConnString(t *testing.T) {
	cfg := PostgresConfig{User: "lobby", Password: "p@ss", Host: "db", Port: "5432", Database: "teamlobby"}
	require.Equal(t, "postgres://lobby:p%40ss@db:5432/teamlobby", cfg.ConnString())
}
