package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
	"github.com/fengnong/fengnong-agent/backend/internal/service/history"
)

func TestHistoryCommandPrintsSession(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "history.db")

	store, err := history.NewSQLiteStore(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.Save(ctx, historyModel.NewTurn(2, historyModel.RoleUser, "小麦什么时候播种？"))
	require.NoError(t, err)
	_, err = store.Save(ctx, historyModel.NewTurn(2, historyModel.RoleAssistant, "秋季"))
	require.NoError(t, err)
	_, err = store.Save(ctx, historyModel.NewTurn(3, historyModel.RoleUser, "other"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	t.Setenv("HISTORY_DRIVER", "sqlite")
	t.Setenv("HISTORY_DSN", dsn)
	t.Setenv("HISTORY_PERSIST_WORKERS", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--session", "2", "--env-file", filepath.Join(dir, "missing.env")})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first historyModel.Turn
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "小麦什么时候播种？", first.Content)
	assert.Equal(t, historyModel.RoleUser, first.Role)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
