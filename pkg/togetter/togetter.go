// Package togetter talks to the To-Get list API.
package togetter

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sw33tLie/togetter/pkg/whttp"
)

const (
	DefaultEndpoint = "http://to-get.appspot.com/api"
	fetchRetryMax   = 3
)

// Client fetches groups and lists and posts item updates.
type Client struct {
	endpoint string
	fetch    *retryablehttp.Client
	update   *retryablehttp.Client
}

// NewClient builds a client for endpoint. proxy may be empty.
func NewClient(endpoint, proxy string) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	fetch := newRetryClient(fetchRetryMax)
	// Item updates are never retried: the optimistic local state and the
	// next fetch reconcile a lost update.
	update := newRetryClient(0)

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		for _, c := range []*retryablehttp.Client{fetch, update} {
			c.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		fetch:    fetch,
		update:   update,
	}, nil
}

func newRetryClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = log.New(io.Discard, "", 0)
	c.RetryMax = retryMax
	return c
}

// GroupURL is the address of a group document.
func (c *Client) GroupURL(groupID string) string {
	return c.endpoint + "/" + url.PathEscape(groupID) + "/"
}

// ListURL is the address of a list document.
func (c *Client) ListURL(groupID, listID string) string {
	return c.GroupURL(groupID) + "lists/" + url.PathEscape(listID) + "/"
}

// FetchGroup returns the raw group payload.
func (c *Client) FetchGroup(ctx context.Context, groupID string) (string, error) {
	return c.get(ctx, c.GroupURL(groupID))
}

// FetchList returns the raw list payload.
func (c *Client) FetchList(ctx context.Context, groupID, listID string) (string, error) {
	return c.get(ctx, c.ListURL(groupID, listID))
}

// UpdateItem records the collected state of an item and returns the
// response body.
func (c *Client) UpdateItem(ctx context.Context, groupID, listID, itemID string, collected bool) (string, error) {
	q := url.Values{}
	q.Set("action", "update")
	q.Set("item", itemID)
	q.Set("collected", strconv.FormatBool(collected))

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method: http.MethodPost,
		URL:    c.ListURL(groupID, listID) + "?" + q.Encode(),
	}, c.update)
	if err != nil {
		return "", err
	}
	if !res.IsOK() {
		return res.BodyString, statusError(res)
	}
	return res.BodyString, nil
}

func (c *Client) get(ctx context.Context, u string) (string, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method: http.MethodGet,
		URL:    u,
	}, c.fetch)
	if err != nil {
		return "", err
	}
	if !res.IsOK() {
		return "", statusError(res)
	}
	return res.BodyString, nil
}

func statusError(res *whttp.WHTTPRes) error {
	if res.HTTPTitle != "" {
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, res.HTTPTitle)
	}
	return fmt.Errorf("unexpected status %d", res.StatusCode)
}
