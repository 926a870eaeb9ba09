package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
)

// LobbiesIndex is the unprefixed name of the lobby search index
const LobbiesIndex = "lobbies"

const lobbiesMapping = `{
  "mappings": {
    "properties": {
      "lobby_id":     {"type": "keyword"},
      "owner_id":     {"type": "keyword"},
      "channel_id":   {"type": "keyword"},
      "players":      {"type": "keyword"},
      "status":       {"type": "keyword"},
      "opened_at":    {"type": "date"},
      "closed_at":    {"type": "date"},
      "view_version": {"type": "integer"}
    }
  }
}`

// NewElasticsearchClient creates a new Elasticsearch client
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	elasticCfg := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(elasticCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// EnsureIndices creates the lobby index when it does not exist
func EnsureIndices(ctx context.Context, client *elasticsearch.Client, cfg config.Config) error {
	index := cfg.FormatIndex(LobbiesIndex)

	res, err := client.Indices.Exists([]string{index}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking if index %s exists: %w", index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	log.Info().Msgf("Creating index %s", index)
	res, err = client.Indices.Create(index,
		client.Indices.Create.WithBody(strings.NewReader(lobbiesMapping)),
		client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error creating index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index %s: %s", index, res.String())
	}
	return nil
}

type lobbyDocument struct {
	*LobbyView
	Status      string `json:"status"`
	ViewVersion int    `json:"view_version"`
}

// ElasticLobbyViewRepository indexes lobby views for search. Elasticsearch's
// external versioning rejects writes that do not move the version forward.
type ElasticLobbyViewRepository struct {
	client *elasticsearch.Client
	index  string
}

var _ cqrs.ViewRepository[*LobbyView] = (*ElasticLobbyViewRepository)(nil)

// NewElasticLobbyViewRepository creates a repository writing to the prefixed lobbies index
func NewElasticLobbyViewRepository(client *elasticsearch.Client, cfg config.Config) *ElasticLobbyViewRepository {
	return &ElasticLobbyViewRepository{
		client: client,
		index:  cfg.FormatIndex(LobbiesIndex),
	}
}

// Load fetches a lobby document
func (r *ElasticLobbyViewRepository) Load(ctx context.Context, viewID string) (*LobbyView, *cqrs.ViewContext, error) {
	res, err := r.client.Get(r.index, viewID, r.client.Get.WithContext(ctx))
	if err != nil {
		return nil, nil, elasticError("load lobby view", err, nil)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil, nil
	}
	if res.IsError() {
		return nil, nil, elasticError("load lobby view", nil, res)
	}

	var body struct {
		Source lobbyDocument `json:"_source"`
	}
	body.Source.LobbyView = NewLobbyView()
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, nil, &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "decode lobby view", Err: err}
	}

	version := body.Source.ViewVersion
	return body.Source.LobbyView, &cqrs.ViewContext{
		ViewInstanceID:  viewID,
		Version:         version,
		PreviousVersion: version,
	}, nil
}

// Create indexes a new lobby document; 409 means it already exists
func (r *ElasticLobbyViewRepository) Create(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	doc, err := r.document(view, vc)
	if err != nil {
		return err
	}

	res, err := r.client.Create(r.index, vc.ViewInstanceID, bytes.NewReader(doc),
		r.client.Create.WithRefresh("true"),
		r.client.Create.WithContext(ctx))
	if err != nil {
		return elasticError("create lobby view", err, nil)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: lobby %s", cqrs.ErrViewAlreadyExists, vc.ViewInstanceID)
	}
	if res.IsError() {
		return elasticError("create lobby view", nil, res)
	}
	return nil
}

// Update re-indexes an existing lobby document at vc.Version
func (r *ElasticLobbyViewRepository) Update(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	exists, err := r.client.Exists(r.index, vc.ViewInstanceID, r.client.Exists.WithContext(ctx))
	if err != nil {
		return elasticError("update lobby view", err, nil)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: lobby %s", cqrs.ErrViewNotFound, vc.ViewInstanceID)
	}

	doc, err := r.document(view, vc)
	if err != nil {
		return err
	}

	res, err := r.client.Index(r.index, bytes.NewReader(doc),
		r.client.Index.WithDocumentID(vc.ViewInstanceID),
		r.client.Index.WithVersion(vc.Version),
		r.client.Index.WithVersionType("external"),
		r.client.Index.WithRefresh("true"),
		r.client.Index.WithContext(ctx))
	if err != nil {
		return elasticError("update lobby view", err, nil)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: lobby %s already at or past version %d", cqrs.ErrViewVersionConflict, vc.ViewInstanceID, vc.Version)
	}
	if res.IsError() {
		return elasticError("update lobby view", nil, res)
	}
	return nil
}

// LobbySearch describes a lobby search request
type LobbySearch struct {
	ChannelID string
	PlayerID  string
	Status    string
	Size      int
}

// Search finds lobbies matching every non-empty field
func (r *ElasticLobbyViewRepository) Search(ctx context.Context, search LobbySearch) ([]*LobbyView, error) {
	filters := make([]map[string]interface{}, 0, 3)
	if search.ChannelID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"channel_id": search.ChannelID}})
	}
	if search.PlayerID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"players": search.PlayerID}})
	}
	if search.Status != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"status": search.Status}})
	}
	size := search.Size
	if size <= 0 || size > 100 {
		size = 25
	}

	query := map[string]interface{}{
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"opened_at": map[string]string{"order": "desc"}}},
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(bytes.NewReader(body)),
		r.client.Search.WithContext(ctx))
	if err != nil {
		return nil, elasticError("search lobby views", err, nil)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, elasticError("search lobby views", nil, res)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source lobbyDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "decode search", Err: err}
	}

	views := make([]*LobbyView, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if hit.Source.LobbyView != nil {
			views = append(views, hit.Source.LobbyView)
		}
	}
	return views, nil
}

func (r *ElasticLobbyViewRepository) document(view *LobbyView, vc cqrs.ViewContext) ([]byte, error) {
	doc, err := json.Marshal(lobbyDocument{LobbyView: view, Status: view.Status(), ViewVersion: vc.Version})
	if err != nil {
		return nil, &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "encode lobby view", Err: err}
	}
	return doc, nil
}

// elasticError classifies transport failures and unavailable clusters as connectivity errors
func elasticError(op string, err error, res *esapi.Response) error {
	if err != nil {
		return &cqrs.PersistenceError{Kind: cqrs.KindConnection, Op: op, Err: err}
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	kind := cqrs.KindUnknown
	switch res.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = cqrs.KindConnection
	}
	return &cqrs.PersistenceError{
		Kind: kind,
		Op:   op,
		Err:  fmt.Errorf("elasticsearch returned %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
	}
}
