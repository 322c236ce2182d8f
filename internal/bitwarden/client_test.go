package bitwarden_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
	"github.com/nvinuesa/kdbx2bw/internal/bitwarden/bwtest"
	"github.com/nvinuesa/kdbx2bw/internal/model"
	"github.com/nvinuesa/kdbx2bw/internal/security"
)

const (
	testOrg        = "1234"
	testCollection = "5678"
)

func newClient(t *testing.T, srv *bwtest.Server, opts ...bitwarden.Option) *bitwarden.Client {
	t.Helper()
	opts = append([]bitwarden.Option{bitwarden.WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return bitwarden.NewClient(srv.URL, bwtest.Password, opts...)
}

func TestUnlock(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv)

	require.NoError(t, c.Unlock(context.Background()))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/unlock", reqs[0].Route)
	var body map[string]string
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, bwtest.Password, body["password"])
}

func TestUnlock_Rejected(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := bitwarden.NewClient(srv.URL, "wrong")

	err := c.Unlock(context.Background())
	require.Error(t, err)
	assert.True(t, bitwarden.IsAuthError(err))
	assert.True(t, bitwarden.IsRemoteError(err))

	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Contains(t, re.Body, "Invalid master password.")
}

func TestUnlock_Unreachable(t *testing.T) {
	srv := bwtest.NewServer(t)
	url := srv.URL
	srv.Close()

	err := bitwarden.NewClient(url, bwtest.Password).Unlock(context.Background())
	require.Error(t, err)
	assert.False(t, bitwarden.IsAuthError(err))

	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Transport())
	assert.Error(t, re.Err)
}

func TestCreateCollection(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.SetCollectionID("testnewcollection", "2345")
	c := newClient(t, srv, bitwarden.WithDefaultGroupIDs("g1", "g2"))
	ctx := context.Background()

	id, err := c.CreateCollection(ctx, testOrg, "testnewcollection")
	require.NoError(t, err)
	assert.Equal(t, "2345", id)

	id, err = c.CreateCollection(ctx, testOrg, "testnewcollection")
	require.NoError(t, err)
	assert.Equal(t, "2345", id)

	assert.Equal(t, 1, srv.Count(http.MethodGet, "/list/object/org-collections"))
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/object/org-collection"))

	var created bitwarden.CollectionRequest
	for _, r := range srv.Requests() {
		if r.Route == "/object/org-collection" {
			assert.Equal(t, testOrg, r.Query["organizationid"])
			require.NoError(t, json.Unmarshal(r.Body, &created))
		}
	}
	assert.Equal(t, testOrg, created.OrganizationID)
	assert.Equal(t, "testnewcollection", created.Name)
	assert.Equal(t, []bitwarden.CollectionGroup{{ID: "g1"}, {ID: "g2"}}, created.Groups)

	assert.Equal(t, map[string]string{"testnewcollection": "2345"}, c.Collections(testOrg))
}

func TestCreateCollection_Existing(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.AddCollection(bitwarden.Collection{ID: "9999", OrganizationID: testOrg, Name: "existing"})
	srv.AddCollection(bitwarden.Collection{ID: "8888", OrganizationID: "other", Name: "elsewhere"})
	c := newClient(t, srv)

	id, err := c.CreateCollection(context.Background(), testOrg, "existing")
	require.NoError(t, err)
	assert.Equal(t, "9999", id)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/object/org-collection"))
	assert.Equal(t, map[string]string{"existing": "9999"}, c.Collections(testOrg))
}

func TestCreateCollection_EmptyOrganizationLoadedOnce(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.CreateCollection(ctx, testOrg, "a")
	require.NoError(t, err)
	_, err = c.CreateCollection(ctx, testOrg, "b")
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Count(http.MethodGet, "/list/object/org-collections"))
	assert.Equal(t, 2, srv.Count(http.MethodPost, "/object/org-collection"))
}

func TestCreateCollection_RerunReusesCollection(t *testing.T) {
	srv := bwtest.NewServer(t)
	ctx := context.Background()
	path := "Vault/Bad\x01Group"

	first, err := newClient(t, srv).CreateCollection(ctx, testOrg, path)
	require.NoError(t, err)
	second, err := newClient(t, srv).CreateCollection(ctx, testOrg, path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/object/org-collection"))
	require.Len(t, srv.Collections(), 1)
	assert.Equal(t, path, srv.Collections()[0].Name)
}

func TestCreateCollections(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.SetCollectionID("testnewcollection", "2345")
	srv.SetCollectionID("testnewcollection2", "3456")
	c := newClient(t, srv)

	ids, err := c.CreateCollections(context.Background(), testOrg,
		[]string{"testnewcollection", "testnewcollection2", "testnewcollection"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"testnewcollection":  "2345",
		"testnewcollection2": "3456",
	}, ids)
	assert.Equal(t, 2, srv.Count(http.MethodPost, "/object/org-collection"))
}

func TestCreateCollection_RemoteError(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.FailOn(http.MethodGet, "/list/object/org-collections", http.StatusInternalServerError, "boom")
	c := newClient(t, srv)

	_, err := c.CreateCollection(context.Background(), testOrg, "x")
	require.Error(t, err)

	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.MethodGet, re.Method)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Equal(t, "boom", re.Body)
	assert.False(t, re.Transport())
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/object/org-collection"))
}

func TestFindItem_FiltersScope(t *testing.T) {
	srv := bwtest.NewServer(t)
	want := srv.AddItem(bitwarden.Item{Name: "testitem", OrganizationID: testOrg, CollectionIDs: []string{testCollection}})
	srv.AddItem(bitwarden.Item{Name: "testitem", OrganizationID: "other", CollectionIDs: []string{testCollection}})
	srv.AddItem(bitwarden.Item{Name: "testitem", OrganizationID: testOrg, CollectionIDs: []string{"other"}})
	c := newClient(t, srv)

	items, err := c.FindItem(context.Background(), testOrg, testCollection, "testitem")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, want.ID, items[0].ID)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]string{
		"organizationid": testOrg,
		"collectionid":   testCollection,
		"search":         "testitem",
	}, reqs[0].Query)
}

func TestCreateItem(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv)

	item := bitwarden.NewLoginItem(testOrg, testCollection)
	item.Name = "testitem"
	item.Login.Username = "user"
	item.Login.Password = "pass"

	id, err := c.CreateItem(context.Background(), item)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, 1, srv.Count(http.MethodGet, "/list/object/items"))
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/object/item"))
	assert.Equal(t, 0, srv.Count(http.MethodDelete, "/object/item/{id}"))

	stored := srv.Items()
	require.Len(t, stored, 1)
	assert.Equal(t, id, stored[0].ID)
	assert.Equal(t, bitwarden.ItemTypeLogin, stored[0].Type)
	assert.Equal(t, "user", stored[0].Login.Username)
	assert.Equal(t, []string{testCollection}, stored[0].CollectionIDs)
}

func TestCreateItem_ReplacesDuplicate(t *testing.T) {
	srv := bwtest.NewServer(t)
	dup := srv.AddItem(bitwarden.Item{Name: "testitem", OrganizationID: testOrg, CollectionIDs: []string{testCollection}})
	similar := srv.AddItem(bitwarden.Item{Name: "testitem2", OrganizationID: testOrg, CollectionIDs: []string{testCollection}})
	c := newClient(t, srv)

	item := bitwarden.NewLoginItem(testOrg, testCollection)
	item.Name = "testitem"
	id, err := c.CreateItem(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Count(http.MethodDelete, "/object/item/{id}"))
	for _, r := range srv.Requests() {
		if r.Method == http.MethodDelete {
			assert.Equal(t, "/object/item/"+dup.ID, r.Path)
		}
	}

	var ids []string
	for _, it := range srv.Items() {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{similar.ID, id}, ids)
}

func TestCreateItem_DeletesSharedDuplicateOnce(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.AddItem(bitwarden.Item{Name: "shared", OrganizationID: testOrg, CollectionIDs: []string{"c1", "c2"}})
	c := newClient(t, srv)

	item := bitwarden.NewLoginItem(testOrg, "c1")
	item.CollectionIDs = append(item.CollectionIDs, "c2")
	item.Name = "shared"
	_, err := c.CreateItem(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, 2, srv.Count(http.MethodGet, "/list/object/items"))
	assert.Equal(t, 1, srv.Count(http.MethodDelete, "/object/item/{id}"))
	assert.Len(t, srv.Items(), 1)
}

func TestDeleteItem_NotFound(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv)

	err := c.DeleteItem(context.Background(), "missing")
	require.Error(t, err)
	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
}

func TestAddAttachment(t *testing.T) {
	srv := bwtest.NewServer(t)
	item := srv.AddItem(bitwarden.Item{Name: "withfile", OrganizationID: testOrg})
	c := newClient(t, srv)

	err := c.AddAttachment(context.Background(), item.ID, model.Attachment{
		Filename: "dir/KeePass_icon.svg",
		Data:     []byte("<svg/>"),
	})
	require.NoError(t, err)

	uploads := srv.Attachments()
	require.Len(t, uploads, 1)
	assert.Equal(t, item.ID, uploads[0].ItemID)
	assert.Equal(t, "KeePass_icon.svg", uploads[0].Filename)
	assert.Equal(t, []byte("<svg/>"), uploads[0].Data)
}

func TestAddAttachment_DryRunOversized(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv, bitwarden.WithDryRun(true))

	err := c.AddAttachment(context.Background(), "", model.Attachment{
		Filename: "huge.bin",
		Data:     make([]byte, security.MaxAttachmentSize+1),
	})
	require.NoError(t, err)
	assert.Empty(t, srv.Requests())
}

func TestSync(t *testing.T) {
	srv := bwtest.NewServer(t)
	c := newClient(t, srv)

	require.NoError(t, c.Sync(context.Background()))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/sync", reqs[0].Route)
	assert.Equal(t, "true", reqs[0].Query["force"])
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.FailOn(http.MethodPost, "/sync", http.StatusOK, `{"success":false,"message":"Vault is locked."}`)
	c := newClient(t, srv)

	err := c.Sync(context.Background())
	require.Error(t, err)
	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusOK, re.StatusCode)
	assert.Contains(t, err.Error(), "Vault is locked.")
}

func TestDryRun_NoRemoteCalls(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.AddItem(bitwarden.Item{Name: "testitem", OrganizationID: testOrg, CollectionIDs: []string{testCollection}})
	c := newClient(t, srv, bitwarden.WithDryRun(true))
	ctx := context.Background()

	require.True(t, c.DryRun())
	require.NoError(t, c.Unlock(ctx))

	id, err := c.CreateCollection(ctx, testOrg, "testnewcollection")
	require.NoError(t, err)
	assert.Equal(t, "", id)

	ids, err := c.CreateCollections(ctx, testOrg, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "", "b": ""}, ids)
	assert.Empty(t, c.Collections(testOrg))

	items, err := c.FindItem(ctx, testOrg, testCollection, "testitem")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	item := bitwarden.NewLoginItem(testOrg, testCollection)
	item.Name = "testitem"
	itemID, err := c.CreateItem(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "", itemID)

	require.NoError(t, c.DeleteItem(ctx, "x"))
	require.NoError(t, c.AddAttachment(ctx, "", model.Attachment{Filename: "f", Data: []byte("d")}))
	require.NoError(t, c.Sync(ctx))

	assert.Empty(t, srv.Requests())
	assert.Len(t, srv.Items(), 1)
}

func TestNonJSONResponse(t *testing.T) {
	srv := bwtest.NewServer(t)
	srv.FailOn(http.MethodPost, "/sync", http.StatusOK, "OK")
	srv.FailOn(http.MethodGet, "/list/object/org-collections", http.StatusOK, "OK")
	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Sync(ctx))

	_, err := c.CreateCollection(ctx, testOrg, "x")
	require.Error(t, err)
	var re *bitwarden.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusOK, re.StatusCode)
	assert.Equal(t, "OK", re.Body)
	assert.Error(t, re.Err)
}

type countingTransport struct {
	calls int
}

func (t *countingTransport) Do(req *http.Request) (*http.Response, error) {
	t.calls++
	return http.DefaultClient.Do(req)
}

func TestWithTransport(t *testing.T) {
	srv := bwtest.NewServer(t)
	transport := &countingTransport{}
	c := newClient(t, srv, bitwarden.WithTransport(transport))

	require.NoError(t, c.Unlock(context.Background()))
	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, 2, transport.calls)
}
