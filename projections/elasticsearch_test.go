package projections

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
)

// fakeElastic is a tiny in-memory stand-in for the document APIs the
// repository calls.
type fakeElastic struct {
	mu       sync.Mutex
	docs     map[string]json.RawMessage
	versions map[string]int
	down     bool
}

func newFakeElastic(t *testing.T) (*fakeElastic, *httptest.Server) {
	fake := &fakeElastic{docs: map[string]json.RawMessage{}, versions: map[string]int{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/" {
		_, _ = io.WriteString(w, `{"version":{"number":"7.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
		return
	}
	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"unavailable"}`)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "_search":
		hits := make([]map[string]json.RawMessage, 0, len(f.docs))
		for _, doc := range f.docs {
			hits = append(hits, map[string]json.RawMessage{"_source": doc})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hits": map[string]interface{}{"hits": hits}})
	case len(parts) == 3 && parts[1] == "_create":
		id := parts[2]
		if _, ok := f.docs[id]; ok {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":"version_conflict_engine_exception"}`)
			return
		}
		f.store(w, r, id, 0)
	case len(parts) == 3 && parts[1] == "_doc":
		id := parts[2]
		doc, ok := f.docs[id]
		switch r.Method {
		case http.MethodHead:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodGet:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"found":false}`)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"found": true, "_source": doc})
		default:
			version, _ := strconv.Atoi(r.URL.Query().Get("version"))
			if ok && f.versions[id] >= version {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, `{"error":"version_conflict_engine_exception"}`)
				return
			}
			f.store(w, r, id, version)
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeElastic) store(w http.ResponseWriter, r *http.Request, id string, version int) {
	body, _ := io.ReadAll(r.Body)
	if version == 0 {
		var doc struct {
			ViewVersion int `json:"view_version"`
		}
		_ = json.Unmarshal(body, &doc)
		version = doc.ViewVersion
	}
	f.docs[id] = body
	f.versions[id] = version
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, `{"result":"created"}`)
}

func newElasticRepository(t *testing.T) (*fakeElastic, *ElasticLobbyViewRepository) {
	fake, srv := newFakeElastic(t)
	cfg := config.Config{Elasticsearch: config.ElasticsearchConfig{URL: srv.URL, Prefix: "test"}}

	client, err := NewElasticsearchClient(cfg.Elasticsearch)
	require.NoError(t, err)
	return fake, NewElasticLobbyViewRepository(client, cfg)
}

func TestElasticLobbyViewRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	_, repo := newElasticRepository(t)
	assert.Equal(t, "test-lobbies", repo.index)

	view, vc, err := repo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.Nil(t, vc)

	created := openView("lobby-1", 1, 10, openedAt)
	require.NoError(t, repo.Create(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 1}))
	err = repo.Create(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 1})
	assert.ErrorIs(t, err, cqrs.ErrViewAlreadyExists)

	created.Players = append(created.Players, 2)
	require.NoError(t, repo.Update(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 2, PreviousVersion: 1}))

	err = repo.Update(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 2, PreviousVersion: 1})
	assert.ErrorIs(t, err, cqrs.ErrViewVersionConflict)

	err = repo.Update(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-9", Version: 2, PreviousVersion: 1})
	assert.ErrorIs(t, err, cqrs.ErrViewNotFound)

	loaded, vc, err := repo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	require.NotNil(t, vc)
	assert.Equal(t, 2, vc.Version)
	assert.Equal(t, created.Players, loaded.Players)

	found, err := repo.Search(ctx, LobbySearch{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "lobby-1", found[0].LobbyID)
}

func TestElasticLobbyViewRepository_Unavailable(t *testing.T) {
	fake, repo := newElasticRepository(t)
	fake.mu.Lock()
	fake.down = true
	fake.mu.Unlock()

	_, _, err := repo.Load(context.Background(), "lobby-1")
	require.Error(t, err)
	assert.True(t, cqrs.IsConnectionError(err))
}
