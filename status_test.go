package synchub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus Snapshot

func (s staticStatus) Snapshot() Snapshot { return Snapshot(s) }

func getStatus(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestStatusServer(t *testing.T) {
	cache := NewQueryCache()
	seed(cache, VoiceRosterKey("ch-1"), VoiceRoster{Users: []VoiceUser{{UserID: "u1"}}, Count: 1})
	seed(cache, PresenceKey(), PresenceMap{})

	src := staticStatus{State: StateConnected, ConnectedOnce: true, Reconnects: 2, Processed: 40, Faults: 1}
	h := NewStatusServer("127.0.0.1:0", src, cache).Handler()

	code, body := getStatus(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = getStatus(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body["state"])
	assert.EqualValues(t, 2, body["reconnects"])
	assert.EqualValues(t, 40, body["processed"])

	code, body = getStatus(t, h, "/cache/keys")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"presence", "voice-presence/channel/ch-1"}, body["keys"])

	code, body = getStatus(t, h, "/cache/entry?key=voice-presence/channel/ch-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["stale"])
	assert.EqualValues(t, 1, body["value"].(map[string]any)["count"])

	code, _ = getStatus(t, h, "/cache/entry?key=members/c1")
	assert.Equal(t, http.StatusNotFound, code, "no fetcher for members")

	code, _ = getStatus(t, h, "/cache/entry")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusServer_EntryFetchesOnMiss(t *testing.T) {
	cache := NewQueryCache()
	cache.RegisterFetcher(Key{resMembers}, func(_ context.Context, key Key) (any, error) {
		if key[1] == "broken" {
			return nil, errors.New("upstream down")
		}
		return FlatList[Member]{{UserID: "u1"}}, nil
	})
	h := NewStatusServer("127.0.0.1:0", staticStatus{}, cache).Handler()

	code, body := getStatus(t, h, "/cache/entry?key=members/c1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "members/c1", body["key"])
	assert.Equal(t, false, body["stale"])
	assert.Len(t, body["value"], 1)

	_, ok := cache.Get(MembersKey("c1"))
	assert.True(t, ok, "fetched value is cached")

	code, body = getStatus(t, h, "/cache/entry?key=members/broken")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "upstream down")

	code, _ = getStatus(t, h, "/cache/entry?key=bans/c1")
	assert.Equal(t, http.StatusNotFound, code)
}
