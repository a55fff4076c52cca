package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/event"
)

const (
	// primaryCalendar is the only calendar the sync engine touches.
	primaryCalendar = "primary"

	// DefaultCallTimeout bounds every remote API call. Exceeding it is
	// classified as remote unavailability.
	DefaultCallTimeout = 15 * time.Second

	// DefaultPageSize is the list page size requested from the remote.
	DefaultPageSize = 100
)

// GoogleClient implements Client against the Google Calendar v3 API.
// Services are cached per principal and rebuilt after a token refresh.
type GoogleClient struct {
	creds    credentials.Provider
	timeout  time.Duration
	pageSize int64

	mu       sync.Mutex
	services map[string]*calendar.Service
}

// GoogleOption configures a GoogleClient.
type GoogleOption func(*GoogleClient)

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) GoogleOption {
	return func(c *GoogleClient) { c.timeout = d }
}

// WithPageSize overrides the list page size.
func WithPageSize(n int64) GoogleOption {
	return func(c *GoogleClient) { c.pageSize = n }
}

// NewGoogleClient creates a Client backed by the Google Calendar API, with
// tokens supplied by the credential provider.
func NewGoogleClient(creds credentials.Provider, opts ...GoogleOption) *GoogleClient {
	c := &GoogleClient{
		creds:    creds,
		timeout:  DefaultCallTimeout,
		pageSize: DefaultPageSize,
		services: make(map[string]*calendar.Service),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// service returns a calendar service authenticated for the principal,
// building and caching one on first use.
func (c *GoogleClient) service(ctx context.Context, principal string) (*calendar.Service, error) {
	c.mu.Lock()
	if svc, ok := c.services[principal]; ok {
		c.mu.Unlock()
		return svc, nil
	}
	c.mu.Unlock()

	tok, err := c.creds.Token(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("get token for principal %s: %w", principal, err)
	}
	return c.buildService(ctx, principal, tok)
}

func (c *GoogleClient) buildService(ctx context.Context, principal string, tok credentials.Token) (*calendar.Service, error) {
	// A static token source keeps refresh decisions out of the transport:
	// refresh is an explicit step owned by the credential provider.
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
	})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create calendar service for principal %s: %w", principal, err)
	}

	c.mu.Lock()
	c.services[principal] = svc
	c.mu.Unlock()
	return svc, nil
}

// withAuthRetry runs fn and, on an authorization failure, refreshes the
// principal's token exactly once and runs fn again. A second authorization
// failure surfaces as KindAuthExpired; a refused refresh propagates
// credentials.ErrRevoked.
func (c *GoogleClient) withAuthRetry(ctx context.Context, op, principal string, fn func(svc *calendar.Service) error) error {
	svc, err := c.service(ctx, principal)
	if err != nil {
		return err
	}

	err = fn(svc)
	if !isAuthError(err) {
		return classify(op, err)
	}

	tok, rerr := c.creds.Refresh(ctx, principal)
	if rerr != nil {
		if errors.Is(rerr, credentials.ErrRevoked) {
			return rerr
		}
		return &Error{Kind: KindAuthExpired, Op: op, Err: rerr}
	}

	svc, err = c.buildService(ctx, principal, tok)
	if err != nil {
		return err
	}
	if err = fn(svc); isAuthError(err) {
		return &Error{Kind: KindAuthExpired, Op: op, Err: err}
	}
	return classify(op, err)
}

func isAuthError(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

// List implements Client.
func (c *GoogleClient) List(ctx context.Context, principal string, cur ListCursor) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var page Page
	err := c.withAuthRetry(ctx, "list", principal, func(svc *calendar.Service) error {
		call := svc.Events.List(primaryCalendar).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(c.pageSize)

		switch {
		case cur.SyncToken != "":
			call = call.SyncToken(cur.SyncToken)
		case !cur.UpdatedMin.IsZero():
			call = call.UpdatedMin(cur.UpdatedMin.Format(time.RFC3339))
		}
		if cur.PageToken != "" {
			call = call.PageToken(cur.PageToken)
		}

		res, err := call.Do()
		if err != nil {
			return err
		}

		page = Page{
			NextPageToken: res.NextPageToken,
			NextSyncToken: res.NextSyncToken,
		}
		for _, item := range res.Items {
			page.Events = append(page.Events, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

// Create implements Client.
func (c *GoogleClient) Create(ctx context.Context, principal string, e event.Event) (Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var created Event
	err := c.withAuthRetry(ctx, "create", principal, func(svc *calendar.Service) error {
		res, err := svc.Events.Insert(primaryCalendar, toGoogleEvent(e)).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = fromGoogleEvent(res)
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return created, nil
}

// Update implements Client.
func (c *GoogleClient) Update(ctx context.Context, principal, remoteID string, e event.Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var revision string
	err := c.withAuthRetry(ctx, "update", principal, func(svc *calendar.Service) error {
		res, err := svc.Events.Update(primaryCalendar, remoteID, toGoogleEvent(e)).Context(ctx).Do()
		if err != nil {
			return err
		}
		revision = res.Etag
		return nil
	})
	if err != nil {
		return "", err
	}
	return revision, nil
}

// Delete implements Client. An event that is already gone on the remote
// side counts as deleted.
func (c *GoogleClient) Delete(ctx context.Context, principal, remoteID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.withAuthRetry(ctx, "delete", principal, func(svc *calendar.Service) error {
		err := svc.Events.Delete(primaryCalendar, remoteID).Context(ctx).Do()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return err
	})
	return err
}
