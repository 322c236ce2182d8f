package bitwarden

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/go-querystring/query"
	jujuhttp "github.com/juju/http/v2"
	"go.uber.org/zap"
	"gopkg.in/httprequest.v1"

	"github.com/nvinuesa/kdbx2bw/internal/model"
	"github.com/nvinuesa/kdbx2bw/internal/security"
)

// Client talks to a `bw serve` instance. It is not safe for concurrent use:
// the collection cache is populated lazily and item replacement relies on
// observing a consistent remote state between search and delete.
type Client struct {
	baseURL         string
	password        string
	defaultGroupIDs []string
	dryRun          bool
	transport       Transport
	log             *zap.SugaredLogger

	collections map[string]*collectionCache
}

// collectionCache maps collection names to ids for one organization.
type collectionCache struct {
	loaded bool
	ids    map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithDefaultGroupIDs grants the given groups access to every collection the
// client creates.
func WithDefaultGroupIDs(ids ...string) Option {
	return func(c *Client) {
		c.defaultGroupIDs = append([]string(nil), ids...)
	}
}

// WithDryRun suppresses every remote call. Operations log what they would
// have sent and return empty placeholders.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) {
		c.dryRun = dryRun
	}
}

// Transport performs HTTP requests. *jujuhttp.Client and *http.Client
// implement it.
type Transport interface {
	Do(*http.Request) (*http.Response, error)
}

// WithTransport replaces the default jujuhttp client.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient returns a client for the API at baseURL, e.g.
// "http://localhost:8007". password is the master password used by Unlock.
func NewClient(baseURL, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		password:    password,
		log:         zap.NewNop().Sugar(),
		collections: make(map[string]*collectionCache),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		// No retrier is configured: every call is attempted once.
		c.transport = jujuhttp.NewClient(jujuhttp.WithLogger(httpLogger{log: c.log}))
	}
	return c
}

// httpLogger routes jujuhttp logging to zap. Request dumps stay disabled
// because the unlock body carries the master password.
type httpLogger struct {
	log *zap.SugaredLogger
}

func (l httpLogger) IsTraceEnabled() bool { return false }

func (l httpLogger) Tracef(msg string, args ...interface{}) { l.log.Debugf(msg, args...) }

func (l httpLogger) Debugf(msg string, args ...interface{}) { l.log.Debugf(msg, args...) }

func (l httpLogger) Infof(msg string, args ...interface{}) { l.log.Infof(msg, args...) }

func (l httpLogger) Warningf(msg string, args ...interface{}) { l.log.Warnf(msg, args...) }

func (l httpLogger) Errorf(msg string, args ...interface{}) { l.log.Errorf(msg, args...) }

// DryRun reports whether remote calls are suppressed.
func (c *Client) DryRun() bool {
	return c.dryRun
}

type unlockRequest struct {
	Password string `json:"password"`
}

type orgQuery struct {
	OrganizationID string `url:"organizationid"`
}

type itemSearchQuery struct {
	OrganizationID string `url:"organizationid"`
	CollectionID   string `url:"collectionid"`
	Search         string `url:"search"`
}

type attachmentQuery struct {
	ItemID string `url:"itemid"`
}

type syncQuery struct {
	Force bool `url:"force"`
}

// Unlock unlocks the vault with the master password.
func (c *Client) Unlock(ctx context.Context) error {
	if c.dryRun {
		c.log.Infof("Would call POST %s", c.baseURL+"/unlock")
		return nil
	}

	c.log.Info("Unlocking vault")
	err := c.doJSON(ctx, http.MethodPost, "/unlock", nil, unlockRequest{Password: c.password}, nil)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && !re.Transport() {
			return &AuthError{Err: re}
		}
		return err
	}
	return nil
}

// CreateCollection returns the id of the collection named path, creating it
// when the organization does not have it yet. path is sent as is and matched
// exactly against existing collection names. Existing collections are
// fetched once per organization. In dry-run mode it returns "" and caches
// nothing.
func (c *Client) CreateCollection(ctx context.Context, orgID, path string) (string, error) {
	cache, err := c.loadCollections(ctx, orgID)
	if err != nil {
		return "", err
	}
	if id, ok := cache.ids[path]; ok {
		return id, nil
	}

	c.log.Debugf("Collection %s missing, adding it", path)
	req := CollectionRequest{
		OrganizationID: orgID,
		Name:           path,
		Groups:         make([]CollectionGroup, 0, len(c.defaultGroupIDs)),
	}
	for _, id := range c.defaultGroupIDs {
		req.Groups = append(req.Groups, CollectionGroup{ID: id})
	}

	if c.dryRun {
		c.logWould(http.MethodPost, "/object/org-collection", orgQuery{orgID}, req)
		return "", nil
	}

	var created Collection
	if err := c.doJSON(ctx, http.MethodPost, "/object/org-collection", orgQuery{orgID}, req, &created); err != nil {
		return "", err
	}
	cache.ids[path] = created.ID
	c.log.Infof("Created collection %s (%s)", path, created.ID)
	return created.ID, nil
}

// CreateCollections calls CreateCollection for each path in order and
// returns one id per distinct path.
func (c *Client) CreateCollections(ctx context.Context, orgID string, paths []string) (map[string]string, error) {
	c.log.Debugf("Creating collections %v", paths)
	ids := make(map[string]string, len(paths))
	for _, path := range paths {
		id, err := c.CreateCollection(ctx, orgID, path)
		if err != nil {
			return ids, err
		}
		ids[path] = id
	}
	return ids, nil
}

// Collections returns a copy of the cached collections of an organization.
func (c *Client) Collections(orgID string) map[string]string {
	out := make(map[string]string)
	if cache, ok := c.collections[orgID]; ok {
		for k, v := range cache.ids {
			out[k] = v
		}
	}
	return out
}

func (c *Client) loadCollections(ctx context.Context, orgID string) (*collectionCache, error) {
	cache, ok := c.collections[orgID]
	if !ok {
		cache = &collectionCache{ids: make(map[string]string)}
		c.collections[orgID] = cache
	}
	if cache.loaded {
		return cache, nil
	}

	if c.dryRun {
		c.logWould(http.MethodGet, "/list/object/org-collections", orgQuery{orgID}, nil)
		cache.loaded = true
		return cache, nil
	}

	var existing list[Collection]
	if err := c.doJSON(ctx, http.MethodGet, "/list/object/org-collections", orgQuery{orgID}, nil, &existing); err != nil {
		return nil, err
	}
	for _, col := range existing.Data {
		cache.ids[col.Name] = col.ID
	}
	cache.loaded = true
	c.log.Debugf("Loaded %d existing collections for organization %s", len(existing.Data), orgID)
	return cache, nil
}

// FindItem searches items of one organization collection. The remote search
// is fuzzy, so results outside the organization or collection are dropped.
// In dry-run mode it returns an empty list.
func (c *Client) FindItem(ctx context.Context, orgID, collectionID, search string) ([]Item, error) {
	if c.dryRun {
		return []Item{}, nil
	}

	q := itemSearchQuery{OrganizationID: orgID, CollectionID: collectionID, Search: search}
	var found list[Item]
	if err := c.doJSON(ctx, http.MethodGet, "/list/object/items", q, nil, &found); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(found.Data))
	for _, item := range found.Data {
		if item.OrganizationID == orgID && item.InCollection(collectionID) {
			items = append(items, item)
		}
	}
	return items, nil
}

// CreateItem creates item and returns its id. Any item with exactly the same
// name in one of the target collections is deleted first. In dry-run mode it
// returns "" without searching, deleting or creating.
func (c *Client) CreateItem(ctx context.Context, item Item) (string, error) {
	if c.dryRun {
		c.logWould(http.MethodPost, "/object/item", nil, nil)
		c.log.Infof("Would create item %s", item.Name)
		return "", nil
	}

	deleted := make(map[string]bool)
	for _, collectionID := range item.CollectionIDs {
		existing, err := c.FindItem(ctx, item.OrganizationID, collectionID, item.Name)
		if err != nil {
			return "", err
		}
		for _, e := range existing {
			if e.Name != item.Name || deleted[e.ID] {
				continue
			}
			c.log.Warnf("Item %s already exists in collection %s, replacing it", item.Name, collectionID)
			if err := c.DeleteItem(ctx, e.ID); err != nil {
				return "", err
			}
			deleted[e.ID] = true
		}
	}

	var created Item
	if err := c.doJSON(ctx, http.MethodPost, "/object/item", nil, item, &created); err != nil {
		return "", err
	}
	c.log.Infof("Created item %s (%s)", item.Name, created.ID)
	return created.ID, nil
}

// DeleteItem deletes an item by id.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	path := "/object/item/" + url.PathEscape(id)
	if c.dryRun {
		c.logWould(http.MethodDelete, path, nil, nil)
		return nil
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// AddAttachment uploads an attachment to an item. In dry-run mode an
// oversized attachment is only reported.
func (c *Client) AddAttachment(ctx context.Context, itemID string, a model.Attachment) error {
	filename := security.SafeFilename(a.Filename)
	if c.dryRun {
		c.logWould(http.MethodPost, "/attachment", attachmentQuery{itemID}, nil)
		c.log.Infof("Would upload attachment %s (%s)", filename, humanize.Bytes(uint64(len(a.Data))))
		if err := security.ValidateAttachment(filename, len(a.Data)); err != nil {
			c.log.Warnf("Upload would fail: %v", err)
		}
		return nil
	}
	if err := security.ValidateAttachment(filename, len(a.Data)); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("attachment %s: %w", filename, err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return fmt.Errorf("attachment %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("attachment %s: %w", filename, err)
	}

	u, err := c.endpoint("/attachment", attachmentQuery{itemID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	c.log.Infof("Uploading attachment %s (%s)", filename, humanize.Bytes(uint64(len(a.Data))))
	return c.send(req, nil)
}

// Sync forces the local vault to pull the server state.
func (c *Client) Sync(ctx context.Context) error {
	if c.dryRun {
		c.logWould(http.MethodPost, "/sync", syncQuery{Force: true}, nil)
		return nil
	}
	c.log.Debug("Syncing vault")
	return c.doJSON(ctx, http.MethodPost, "/sync", syncQuery{Force: true}, nil, nil)
}

func (c *Client) endpoint(path string, q any) (string, error) {
	u := c.baseURL + path
	if q == nil {
		return u, nil
	}
	v, err := query.Values(q)
	if err != nil {
		return "", fmt.Errorf("encode query for %s: %w", path, err)
	}
	return u + "?" + v.Encode(), nil
}

// logWould logs the request a suppressed call would have issued. Bodies are
// only logged for requests that carry no secrets.
func (c *Client) logWould(method, path string, q any, body any) {
	u, err := c.endpoint(path, q)
	if err != nil {
		u = c.baseURL + path
	}
	if body == nil {
		c.log.Infof("Would call %s %s", method, u)
		return
	}
	data, _ := json.Marshal(body)
	c.log.Infof("Would call %s %s with %s", method, u, data)
}

func (c *Client) doJSON(ctx context.Context, method, path string, q any, body any, out any) error {
	u, err := c.endpoint(path, q)
	if err != nil {
		return err
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

// list is the data member of list responses.
type list[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

// envelope wraps every response.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// send issues req and decodes the `data` member of the response envelope
// into out when out is not nil. Responses without a JSON envelope are
// accepted for calls that expect no result.
func (c *Client) send(req *http.Request, out any) error {
	c.log.Debugf("%s %s", req.Method, req.URL.Path)

	resp, err := c.transport.Do(req)
	if err != nil {
		return &RemoteError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// The raw body is kept for diagnostics.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode, Err: err}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	remoteErr := func(err error) error {
		return &RemoteError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        err,
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return remoteErr(nil)
	}

	var env envelope
	if err := httprequest.UnmarshalJSONResponse(resp, &env); err != nil {
		if out != nil {
			return remoteErr(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	if env.Success != nil && !*env.Success {
		if env.Message != "" {
			return remoteErr(fmt.Errorf("%w: %s", errUnsuccessful, env.Message))
		}
		return remoteErr(errUnsuccessful)
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return remoteErr(errors.New("response has no data"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return remoteErr(fmt.Errorf("decode response data: %w", err))
	}
	return nil
}
