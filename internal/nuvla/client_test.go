package nuvla

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbusmgr/internal/domain"
)

const sessionCookie = "com.sixsq.nuvla.cookie"

// fakeNuvla is a minimal Nuvla API: api-key sessions plus peripheral CRUD
type fakeNuvla struct {
	mu          sync.Mutex
	logins      int
	token       string
	rejectLogin bool
	failDelete  bool
	resources   map[string]map[string]any
	requests    []string
}

func newFakeNuvla() *fakeNuvla {
	return &fakeNuvla{resources: make(map[string]map[string]any)}
}

func (f *fakeNuvla) expireSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = "expired"
}

func (f *fakeNuvla) resource(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources[id]
}

func (f *fakeNuvla) resourceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resources)
}

func (f *fakeNuvla) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeNuvla) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if r.URL.Path == sessionPath && r.Method == http.MethodPost {
		var body struct {
			Template map[string]string `json:"template"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.rejectLogin || body.Template["key"] != "credential/abc" || body.Template["secret"] != "s3cr3t" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.logins++
		f.token = "t" + strings.Repeat("x", f.logins)
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: f.token, Path: "/"})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":201,"resource-id":"session/1"}`))
		return
	}

	if c, err := r.Cookie(sessionCookie); err != nil || c.Value != f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == peripheralPath:
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		id := "nuvlabox-peripheral/" + strings.Repeat("a", len(f.resources)+1)
		f.resources[id] = payload
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 201, "resource-id": id})
	case strings.HasPrefix(r.URL.Path, "/api/nuvlabox-peripheral/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/")
		if _, ok := f.resources[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodDelete {
			if f.failDelete {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			delete(f.resources, id)
		} else {
			// edits merge into the stored document
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			for k, v := range payload {
				f.resources[id][k] = v
			}
		}
		_, _ = w.Write([]byte(`{"status":200}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestClient(t *testing.T, api *fakeNuvla) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Endpoint:  srv.URL,
		APIKey:    "credential/abc",
		APISecret: "s3cr3t",
		ParentID:  "nuvlabox/42",
		Version:   2,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	return c
}

var plcID = domain.Identity{Host: "192.168.1.10", Port: 502}

func plcMetadata() map[string]string {
	return map[string]string{
		domain.MetaUnitID:    "100",
		domain.MetaClasses:   "PM710PowerMeter",
		domain.MetaVendor:    "Schneider Electric",
		domain.MetaInterface: "TCP",
		domain.MetaName:      "Modbus 502/tcp PM710PowerMeter - 100",
		domain.MetaAvailable: "true",
		domain.MetaHostname:  "plc1.local",
	}
}

func TestClient_Lifecycle(t *testing.T) {
	api := newFakeNuvla()
	c := newTestClient(t, api)
	ctx := context.Background()

	remoteID, err := c.Create(ctx, plcID, plcMetadata())
	require.NoError(t, err)
	assert.Equal(t, "nuvlabox-peripheral/a", remoteID)
	assert.Equal(t, 1, api.loginCount(), "first call logs in")

	created := api.resource(remoteID)
	assert.Equal(t, "nuvlabox/42", created["parent"])
	assert.EqualValues(t, 2, created["version"])
	assert.EqualValues(t, 502, created["port"])
	assert.Equal(t, "100", created["identifier"])
	assert.Equal(t, []any{"PM710PowerMeter"}, created["classes"])
	assert.Equal(t, true, created["available"])
	assert.NotContains(t, created, "hostname")

	md := plcMetadata()
	md[domain.MetaVendor] = "Schneider Electric v2"
	require.NoError(t, c.Update(ctx, plcID, remoteID, md))
	assert.Equal(t, "Schneider Electric v2", api.resource(remoteID)["vendor"])

	require.NoError(t, c.Remove(ctx, plcID, remoteID))
	assert.Zero(t, api.resourceCount())
	assert.Equal(t, 1, api.loginCount(), "session is reused")
}

func TestClient_NotFound(t *testing.T) {
	api := newFakeNuvla()
	c := newTestClient(t, api)
	ctx := context.Background()

	err := c.Remove(ctx, plcID, "nuvlabox-peripheral/gone")
	require.ErrorIs(t, err, ErrNotFound)

	err = c.Update(ctx, plcID, "nuvlabox-peripheral/gone", plcMetadata())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_RemoveFailureMarksUnavailable(t *testing.T) {
	api := newFakeNuvla()
	c := newTestClient(t, api)
	ctx := context.Background()

	remoteID, err := c.Create(ctx, plcID, plcMetadata())
	require.NoError(t, err)

	api.mu.Lock()
	api.failDelete = true
	api.mu.Unlock()

	err = c.Remove(ctx, plcID, remoteID)
	require.ErrorIs(t, err, errUnexpectedStatusCode)

	stored := api.resource(remoteID)
	require.NotNil(t, stored, "resource is kept when the delete fails")
	assert.Equal(t, false, stored["available"])
	assert.Equal(t, "nuvlabox/42", stored["parent"])
}

func TestClient_ReauthenticatesOnce(t *testing.T) {
	api := newFakeNuvla()
	c := newTestClient(t, api)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))
	api.expireSession()

	_, err := c.Create(ctx, plcID, plcMetadata())
	require.NoError(t, err)
	assert.Equal(t, 2, api.loginCount())
}

func TestClient_RejectedCredentials(t *testing.T) {
	api := newFakeNuvla()
	api.rejectLogin = true
	c := newTestClient(t, api)

	err := c.Login(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Create(context.Background(), plcID, plcMetadata())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, api.resourceCount())
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == sessionPath {
			w.WriteHeader(http.StatusCreated)
			return
		}
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, APIKey: "k", APISecret: "s"}, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Create(context.Background(), plcID, plcMetadata())
	require.ErrorIs(t, err, errUnexpectedStatusCode)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestPeripheralPayload_Defaults(t *testing.T) {
	c := &Client{}
	payload := c.peripheralPayload(domain.Identity{Host: "10.0.0.5", Port: 1502, UnitID: "7"}, nil)

	assert.Equal(t, "Modbus 10.0.0.5:1502/7", payload["name"])
	assert.Equal(t, "7", payload["identifier"])
	assert.Equal(t, "TCP", payload["interface"])
	assert.Equal(t, true, payload["available"])
}

func TestResourcePath(t *testing.T) {
	assert.Equal(t, "/api/nuvlabox-peripheral/123", resourcePath("nuvlabox-peripheral/123"))
	assert.Equal(t, "/api/nuvlabox-peripheral/123", resourcePath("/nuvlabox-peripheral/123"))
}
