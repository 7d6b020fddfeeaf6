package synchub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T, routes map[string]any, hooks ...func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, hook := range hooks {
			hook(r)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"missing token"}`))
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.Error(w, "no such route", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Loaders(t *testing.T) {
	var gotLimit string
	srv := newAPIServer(t, map[string]any{
		"/api/channels/ch-1/messages":           []Message{{ID: "m1", ChannelID: "ch-1"}},
		"/api/groups/g-1/pins":                  []Message{},
		"/api/unread-counts":                    []UnreadCount{{Kind: BucketGroup, BucketID: "g-1", Count: 2}},
		"/api/notifications/unread-count":       map[string]int{"count": 7},
		"/api/voice/channels/ch-1/participants": VoiceRoster{Users: []VoiceUser{{UserID: "u1"}, {UserID: "u2"}}},
		"/api/voice/dm/g-1/participants":        map[string]any{},
		"/api/presence":                         PresenceMap{"u1": PresenceOnline},
		"/api/communities/c1":                   Community{ID: "c1", Name: "gophers"},
		"/api/communities/c1/members":           nil,
	}, func(r *http.Request) {
		if r.URL.Path == "/api/channels/ch-1/messages" {
			gotLimit = r.URL.Query().Get("limit")
		}
	})

	c := NewClient("tok", WithBaseURL(srv.URL+"/"), WithPageLimit(20))
	ctx := context.Background()

	msgs, err := c.Messages(ctx, chOne)
	require.NoError(t, err)
	assert.Equal(t, 1, msgs.Len())
	assert.Equal(t, "20", gotLimit)

	pins, err := c.Pins(ctx, groupOne)
	require.NoError(t, err)
	assert.NotNil(t, pins)
	assert.Empty(t, pins)

	counts, err := c.UnreadCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[0].Count)

	n, err := c.NotificationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	roster, err := c.VoiceRoster(ctx, "ch-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, roster.Count, "count follows the user list")

	dm, err := c.VoiceRoster(ctx, "g-1", true)
	require.NoError(t, err)
	assert.Equal(t, VoiceRoster{Users: []VoiceUser{}, Count: 0}, dm)

	presence, err := c.Presence(ctx)
	require.NoError(t, err)
	assert.Equal(t, PresenceOnline, presence["u1"])

	community, err := c.Community(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "gophers", community.Name)

	members, err := c.Members(ctx, "c1")
	require.NoError(t, err)
	assert.NotNil(t, members, "null decodes to an empty list")
}

func TestClient_APIError(t *testing.T) {
	srv := newAPIServer(t, nil)

	_, err := NewClient("wrong", WithBaseURL(srv.URL)).Communities(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "UNAUTHORIZED: missing token", apiErr.Error())

	_, err = NewClient("tok", WithBaseURL(srv.URL)).Roles(context.Background(), "c1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no such route", apiErr.Message)
}

func TestClient_RegisterFillsCache(t *testing.T) {
	srv := newAPIServer(t, map[string]any{
		"/api/groups/g-1/messages":       []Message{{ID: "m9", GroupID: "g-1"}},
		"/api/voice/dm/g-1/participants": VoiceRoster{Users: []VoiceUser{{UserID: "u1"}}},
		"/api/communities/c1/bans":       []Member{{UserID: "u3"}},
	})
	cache := NewQueryCache()
	NewClient("tok", WithBaseURL(srv.URL)).Register(cache)
	ctx := context.Background()

	v, err := cache.Fetch(ctx, MessagesKey(groupOne))
	require.NoError(t, err)
	_, ok := v.(*InfiniteList[Message]).FindByID("m9")
	assert.True(t, ok)

	v, err = cache.Fetch(ctx, DMVoiceRosterKey("g-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, v.(VoiceRoster).Count)

	v, err = cache.Fetch(ctx, BansKey("c1"))
	require.NoError(t, err)
	assert.Len(t, v.(FlatList[Member]), 1)

	_, err = cache.Fetch(ctx, Key{resMessages, "thread", "x"})
	assert.Error(t, err)
}

func TestClient_RequestsAreBodylessGets(t *testing.T) {
	type seen struct {
		method, accept, contentType string
		length                      int64
	}
	reqs := make(chan seen, 1)
	srv := newAPIServer(t, map[string]any{"/api/presence": PresenceMap{"u1": PresenceOnline}}, func(r *http.Request) {
		reqs <- seen{r.Method, r.Header.Get("Accept"), r.Header.Get("Content-Type"), r.ContentLength}
	})

	_, err := NewClient("tok", WithBaseURL(srv.URL)).Presence(context.Background())
	require.NoError(t, err)
	got := <-reqs
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "application/json", got.accept)
	assert.Empty(t, got.contentType)
	assert.Zero(t, got.length)
}
