// Package synchub keeps a local, query-keyed cache of chat data consistent
// with a server that pushes events over a websocket.
//
// The pieces, leaves first:
//
//	bus := synchub.NewBus()
//	cache := synchub.NewQueryCache()
//	synchub.NewClient(token, synchub.WithBaseURL(server)).Register(cache)
//
//	transport := synchub.NewWSTransport(synchub.WSConfig{URL: server, Token: token, AutoReconnect: true})
//	mgr, _ := synchub.NewManager(transport, cache, synchub.NewMemoryContextIndex(0), bus)
//	mgr.Start(ctx)
//
//	// Side effects outside the cache
//	synchub.Subscribe(ctx, bus, synchub.EventMessageNew, func(ctx context.Context, env synchub.Envelope) { ... })
package synchub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultPageLimit = 50
)

// ============================================================================
// Client
// ============================================================================

// Client loads the authoritative value of cache keys from the REST API.
type Client struct {
	token      string
	baseURL    string
	pageLimit  int
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithPageLimit sets how many messages a conversation fetch loads.
func WithPageLimit(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// NewClient creates a REST client. token may be empty.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:     token,
		pageLimit: DefaultPageLimit,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Internal request helper
// ============================================================================

// doRequest issues a bodyless request; every loader is a GET.
func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func getJSON[T any](ctx context.Context, c *Client, path string, query map[string]string) (T, error) {
	var zero T
	data, err := c.doRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return zero, err
	}
	v, err := decodeJSON[T](data)
	if err != nil {
		return zero, err
	}
	return *v, nil
}

// ============================================================================
// Resource loaders
// ============================================================================

func bucketPath(b Bucket) string {
	if b.Kind == BucketGroup {
		return "/api/groups/" + url.PathEscape(b.ID)
	}
	return "/api/channels/" + url.PathEscape(b.ID)
}

// Messages loads the newest page of a conversation.
func (c *Client) Messages(ctx context.Context, b Bucket) (*InfiniteList[Message], error) {
	page, err := getJSON[[]Message](ctx, c, bucketPath(b)+"/messages", map[string]string{
		"limit": strconv.Itoa(c.pageLimit),
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []Message{}
	}
	return NewInfiniteList(page), nil
}

// Pins loads the pinned messages of a conversation.
func (c *Client) Pins(ctx context.Context, b Bucket) (FlatList[Message], error) {
	return flat[Message](ctx, c, bucketPath(b)+"/pins")
}

func (c *Client) UnreadCounts(ctx context.Context) (FlatList[UnreadCount], error) {
	return flat[UnreadCount](ctx, c, "/api/unread-counts")
}

func (c *Client) Notifications(ctx context.Context) (FlatList[Notification], error) {
	return flat[Notification](ctx, c, "/api/notifications")
}

func (c *Client) NotificationCount(ctx context.Context) (int, error) {
	res, err := getJSON[struct {
		Count int `json:"count"`
	}](ctx, c, "/api/notifications/unread-count", nil)
	return res.Count, err
}

// VoiceRoster loads the participants of a voice channel (dm=false) or DM call.
func (c *Client) VoiceRoster(ctx context.Context, id string, dm bool) (VoiceRoster, error) {
	path := "/api/voice/channels/" + url.PathEscape(id) + "/participants"
	if dm {
		path = "/api/voice/dm/" + url.PathEscape(id) + "/participants"
	}
	roster, err := getJSON[VoiceRoster](ctx, c, path, nil)
	if err != nil {
		return VoiceRoster{}, err
	}
	if roster.Users == nil {
		roster.Users = []VoiceUser{}
	}
	roster.Count = len(roster.Users)
	return roster, nil
}

func (c *Client) Presence(ctx context.Context) (PresenceMap, error) {
	m, err := getJSON[PresenceMap](ctx, c, "/api/presence", nil)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = PresenceMap{}
	}
	return m, nil
}

func (c *Client) Communities(ctx context.Context) (FlatList[Community], error) {
	return flat[Community](ctx, c, "/api/communities")
}

func (c *Client) Community(ctx context.Context, id string) (Community, error) {
	return getJSON[Community](ctx, c, "/api/communities/"+url.PathEscape(id), nil)
}

func (c *Client) Members(ctx context.Context, communityID string) (FlatList[Member], error) {
	return flat[Member](ctx, c, "/api/communities/"+url.PathEscape(communityID)+"/members")
}

func (c *Client) Bans(ctx context.Context, communityID string) (FlatList[Member], error) {
	return flat[Member](ctx, c, "/api/communities/"+url.PathEscape(communityID)+"/bans")
}

func (c *Client) Roles(ctx context.Context, communityID string) (FlatList[Role], error) {
	return flat[Role](ctx, c, "/api/communities/"+url.PathEscape(communityID)+"/roles")
}

func (c *Client) Channels(ctx context.Context, communityID string) (FlatList[Channel], error) {
	return flat[Channel](ctx, c, "/api/communities/"+url.PathEscape(communityID)+"/channels")
}

// flat loads a JSON array. An empty array is returned as an empty, non-nil
// list so that handlers treat it as materialized.
func flat[T Record](ctx context.Context, c *Client, path string) (FlatList[T], error) {
	list, err := getJSON[FlatList[T]](ctx, c, path, nil)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = FlatList[T]{}
	}
	return list, nil
}

// ============================================================================
// Cache wiring
// ============================================================================

// Register installs a fetcher on cache for every key family the hub writes.
func (c *Client) Register(cache *QueryCache) {
	cache.RegisterFetcher(Key{resMessages}, func(ctx context.Context, key Key) (any, error) {
		b, err := bucketFromKey(key)
		if err != nil {
			return nil, err
		}
		return c.Messages(ctx, b)
	})
	cache.RegisterFetcher(Key{resPins}, func(ctx context.Context, key Key) (any, error) {
		b, err := bucketFromKey(key)
		if err != nil {
			return nil, err
		}
		return c.Pins(ctx, b)
	})
	cache.RegisterFetcher(UnreadCountsKey(), func(ctx context.Context, _ Key) (any, error) {
		return c.UnreadCounts(ctx)
	})
	cache.RegisterFetcher(NotificationsKey(), func(ctx context.Context, _ Key) (any, error) {
		return c.Notifications(ctx)
	})
	cache.RegisterFetcher(NotificationCountKey(), func(ctx context.Context, _ Key) (any, error) {
		return c.NotificationCount(ctx)
	})
	cache.RegisterFetcher(Key{resVoicePresence}, func(ctx context.Context, key Key) (any, error) {
		if len(key) != 3 || (key[1] != voiceChannel && key[1] != voiceDM) {
			return nil, fmt.Errorf("malformed voice key %s", key)
		}
		return c.VoiceRoster(ctx, key[2], key[1] == voiceDM)
	})
	cache.RegisterFetcher(PresenceKey(), func(ctx context.Context, _ Key) (any, error) {
		return c.Presence(ctx)
	})
	cache.RegisterFetcher(CommunitiesKey(), func(ctx context.Context, _ Key) (any, error) {
		return c.Communities(ctx)
	})
	cache.RegisterFetcher(Key{resCommunity}, communityScoped(func(ctx context.Context, id string) (any, error) {
		return c.Community(ctx, id)
	}))
	cache.RegisterFetcher(Key{resMembers}, communityScoped(func(ctx context.Context, id string) (any, error) {
		return c.Members(ctx, id)
	}))
	cache.RegisterFetcher(Key{resBans}, communityScoped(func(ctx context.Context, id string) (any, error) {
		return c.Bans(ctx, id)
	}))
	cache.RegisterFetcher(Key{resRoles}, communityScoped(func(ctx context.Context, id string) (any, error) {
		return c.Roles(ctx, id)
	}))
	cache.RegisterFetcher(Key{resChannels}, communityScoped(func(ctx context.Context, id string) (any, error) {
		return c.Channels(ctx, id)
	}))
}

func bucketFromKey(key Key) (Bucket, error) {
	if len(key) != 3 {
		return Bucket{}, fmt.Errorf("malformed conversation key %s", key)
	}
	return ParseBucket(key[1] + ":" + key[2])
}

func communityScoped(fn func(ctx context.Context, id string) (any, error)) FetchFunc {
	return func(ctx context.Context, key Key) (any, error) {
		if len(key) != 2 || key[1] == "" {
			return nil, fmt.Errorf("malformed community key %s", key)
		}
		return fn(ctx, key[1])
	}
}
