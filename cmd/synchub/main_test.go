package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftchat/synchub"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(t *testing.T, cfg *Config)
	}{
		{key: "server.url", value: "https://chat.example.com", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
		}},
		{key: "hub.heartbeat_interval", value: "15s", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, "15s", cfg.Hub.HeartbeatInterval)
		}},
		{key: "hub.max_reconnect_attempts", value: "-1", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, -1, cfg.Hub.MaxReconnectAttempts)
		}},
		{key: "index.backend", value: "redis", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, "redis", cfg.Index.Backend)
		}},
		{key: "index.redis_db", value: "3", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, 3, cfg.Index.RedisDB)
		}},
		{key: "hub.heartbeat_interval", value: "soon", wantErr: true},
		{key: "hub.max_reconnect_attempts", value: "many", wantErr: true},
		{key: "log.format", value: "xml", wantErr: true},
		{key: "index.backend", value: "etcd", wantErr: true},
		{key: "server.password", value: "x", wantErr: true},
		{key: "nosection", value: "x", wantErr: true},
		{key: "cache.size", value: "1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := defaultConfig()
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadAndSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg, "missing file yields defaults")

	cfg.Server = ConfigServer{URL: "http://localhost:3000", Token: "secret-token", UserID: "me"}
	cfg.Hub.StatusAddr = ":9090"
	require.NoError(t, saveConfig(path, cfg))

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.NoError(t, os.WriteFile(path, []byte("[server\nurl="), 0o600))
	_, err = loadConfig(path)
	assert.ErrorContains(t, err, "cannot parse config")
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nurl = \"http://x\"\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://x", cfg.Server.URL)
	assert.Equal(t, "30s", cfg.Hub.HeartbeatInterval)
	assert.Equal(t, "memory", cfg.Index.Backend)

	d, err := cfg.Hub.heartbeat()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestConfigSetCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Cleanup(func() { configFile = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "config", "set", "server.token", "abcd1234efgh5678"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "Set server.token = abcd...5678\n", out.String())

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234efgh5678", cfg.Server.Token)
}

func TestConfigShowCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Cleanup(func() { configFile = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "# "+path+" (not created yet"), out.String())

	cfg := defaultConfig()
	cfg.Server.URL = "https://chat.example.com"
	cfg.Server.Token = "abcd1234efgh5678"
	require.NoError(t, saveConfig(path, cfg))

	out.Reset()
	rootCmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, rootCmd.Execute())
	assert.NotContains(t, out.String(), "abcd1234efgh5678")

	var shown Config
	require.NoError(t, toml.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, "abcd...5678", shown.Server.Token)
	assert.Equal(t, "https://chat.example.com", shown.Server.URL)
	assert.Equal(t, "30s", shown.Hub.HeartbeatInterval, "defaults are shown")
	assert.Equal(t, "memory", shown.Index.Backend)

	out.Reset()
	rootCmd.SetArgs([]string{"--config", path, "config", "path"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, path+"\n", out.String())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(ConfigLog{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = newLogger(ConfigLog{Format: "yaml"})
	assert.Error(t, err)
	_, err = newLogger(ConfigLog{Level: "chatty"})
	assert.Error(t, err)
}

func TestBuildIndex(t *testing.T) {
	ctx := context.Background()

	idx, release, err := buildIndex(ctx, ConfigIndex{Backend: "memory", Retention: "1h"})
	require.NoError(t, err)
	release()
	assert.IsType(t, &synchub.MemoryContextIndex{}, idx)

	mr := miniredis.RunT(t)
	idx, release, err = buildIndex(ctx, ConfigIndex{Backend: "redis", RedisAddr: mr.Addr(), Retention: "1h"})
	require.NoError(t, err)
	defer release()
	require.NoError(t, idx.Set(ctx, "m1", synchub.Bucket{Kind: synchub.BucketChannel, ID: "ch-1"}))
	assert.Len(t, mr.Keys(), 1)

	_, _, err = buildIndex(ctx, ConfigIndex{Backend: "redis"})
	assert.ErrorContains(t, err, "redis_addr")
	_, _, err = buildIndex(ctx, ConfigIndex{Backend: "sqlite"})
	assert.Error(t, err)
	_, _, err = buildIndex(ctx, ConfigIndex{Retention: "forever"})
	assert.Error(t, err)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}

func TestWatchConfig_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, saveConfig(path, defaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchConfig(ctx, path, logrus.NewEntry(logrus.New()), func(cfg *Config) { reloaded <- cfg })
	}()

	// The watcher is registered asynchronously; keep writing until it reacts.
	cfg := defaultConfig()
	cfg.Log.Level = "debug"
	require.Eventually(t, func() bool {
		if saveConfig(path, cfg) != nil {
			return false
		}
		select {
		case got := <-reloaded:
			return got.Log.Level == "debug"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestFetchSnapshot(t *testing.T) {
	cache := synchub.NewQueryCache()
	src := snapshotFunc(func() synchub.Snapshot {
		return synchub.Snapshot{State: synchub.StateReconnecting, ConnectedOnce: true, Reconnects: 3}
	})
	srv := httptest.NewServer(synchub.NewStatusServer("", src, cache).Handler())
	defer srv.Close()

	snap, err := fetchSnapshot(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, synchub.StateReconnecting, snap.State)
	assert.EqualValues(t, 3, snap.Reconnects)

	_, err = fetchSnapshot(context.Background(), srv.URL+"/nope")
	assert.ErrorContains(t, err, "404")
}

type snapshotFunc func() synchub.Snapshot

func (f snapshotFunc) Snapshot() synchub.Snapshot { return f() }

func TestParseEvents(t *testing.T) {
	all, err := parseEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, synchub.Catalog(), all)

	some, err := parseEvents([]string{"message:new", "voice:user-left"})
	require.NoError(t, err)
	assert.Equal(t, []synchub.EventType{synchub.EventMessageNew, synchub.EventVoiceUserLeft}, some)

	_, err = parseEvents([]string{"typing:start"})
	assert.ErrorIs(t, err, synchub.ErrUnknownEvent)
}

func TestPrimeCache_LoadsSessionAndCommunities(t *testing.T) {
	mux := http.NewServeMux()
	reply := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		})
	}
	reply("/api/communities", `[{"id":"c1","name":"one","ownerId":"u1"}]`)
	reply("/api/unread-counts", `[]`)
	reply("/api/notifications", `[]`)
	reply("/api/notifications/unread-count", `{"count":2}`)
	reply("/api/presence", `{"u1":"online"}`)
	reply("/api/communities/c1", `{"id":"c1","name":"one","ownerId":"u1"}`)
	reply("/api/communities/c1/channels", `[{"id":"ch-1","communityId":"c1"}]`)
	reply("/api/communities/c1/members", `[{"userId":"u1"}]`)
	// roles is left unserved and fails with 404.
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := synchub.NewQueryCache()
	synchub.NewClient("", synchub.WithBaseURL(srv.URL)).Register(cache)

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	primeCache(context.Background(), cache, logrus.NewEntry(logger))

	for _, key := range append(synchub.SessionKeys(), synchub.ChannelsKey("c1"), synchub.MembersKey("c1"), synchub.CommunityKey("c1")) {
		_, ok := cache.Get(key)
		assert.True(t, ok, "%s primed", key)
	}
	count, _ := cache.Get(synchub.NotificationCountKey())
	assert.Equal(t, 2, count)
	_, ok := cache.Get(synchub.RolesKey("c1"))
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "priming community keys")
}
