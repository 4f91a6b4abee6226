// Package search projects canonical records into Elasticsearch. The index is
// a derived view: documents are written under the deterministic ID so repeat
// indexing overwrites instead of duplicating, and the whole index can be
// rebuilt from the store at any time.
package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/cityevents/services/ingestion/config"
	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// indexMapping is the document schema. One logical collection holds both
// event- and group-type documents, disambiguated by the type keyword field.
// Text fields use a stemming/stopword analyzer with an exact-match sub-field.
const indexMapping = `{
  "settings": {
    "analysis": {
      "analyzer": {
        "listing_text": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "stop", "porter_stem"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "type":        {"type": "keyword"},
      "title":       {"type": "text", "analyzer": "listing_text", "fields": {"exact": {"type": "keyword"}}},
      "description": {"type": "text", "analyzer": "listing_text", "fields": {"exact": {"type": "keyword"}}},
      "location":    {"type": "text", "analyzer": "listing_text", "fields": {"exact": {"type": "keyword"}}},
      "venue":       {"type": "text", "analyzer": "listing_text", "fields": {"exact": {"type": "keyword"}}},
      "category":    {"type": "keyword"},
      "source":      {"type": "keyword"},
      "coordinates": {"type": "geo_point"},
      "cost": {
        "properties": {
          "type":     {"type": "keyword"},
          "currency": {"type": "keyword"},
          "amount":   {"type": "double"}
        }
      },
      "start_date": {"type": "date", "format": "yyyy-MM-dd"},
      "end_date":   {"type": "date", "format": "yyyy-MM-dd"},
      "is_public":  {"type": "boolean"},
      "is_virtual": {"type": "boolean"},
      "confidence": {"type": "double"},
      "createdAt":  {"type": "long"},
      "url":        {"type": "keyword"},
      "image_url":  {"type": "keyword"}
    }
  }
}`

func (c *ElasticClient) indexName() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// EnsureSchema idempotently creates the index with its mapping; an index that
// already exists is left untouched.
func (c *ElasticClient) EnsureSchema(ctx context.Context) error {
	exists, err := c.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Info().Str("index", c.indexName()).Msg("Creating search index")

	res, err := c.client.Indices.Create(
		c.indexName(),
		c.client.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
		c.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create index %s", c.indexName())
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("error creating index %s: %s", c.indexName(), res.String())
	}
	return nil
}

func (c *ElasticClient) indexExists(ctx context.Context) (bool, error) {
	res, err := c.client.Indices.Exists(
		[]string{c.indexName()},
		c.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check index %s", c.indexName())
	}
	defer res.Body.Close()

	return res.StatusCode == 200, nil
}

// deleteIndex drops the index ahead of a rebuild. A missing index is fine.
func (c *ElasticClient) deleteIndex(ctx context.Context) error {
	res, err := c.client.Indices.Delete(
		[]string{c.indexName()},
		c.client.Indices.Delete.WithContext(ctx),
		c.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to delete index %s", c.indexName())
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("error deleting index %s: %s", c.indexName(), res.String())
	}
	return nil
}

// Upsert indexes an event under its deterministic ID. The explicit document
// ID - never an engine-assigned one - is what makes repeated indexing
// overwrite the prior document instead of duplicating it. This is the
// deliberate inverse of the store's create-if-absent policy: the index stays
// fresh, the store stays append-only.
func (c *ElasticClient) Upsert(ctx context.Context, event *models.Event) error {
	return c.upsertDocument(ctx, event.ID, BuildEventDocument(event))
}

// UpsertGroup indexes a group-type document under the group's identity.
func (c *ElasticClient) UpsertGroup(ctx context.Context, group *models.Group) error {
	return c.upsertDocument(ctx, group.ID, BuildGroupDocument(group))
}

func (c *ElasticClient) upsertDocument(ctx context.Context, id string, doc map[string]interface{}) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal document %s", id)
	}

	req := esapi.IndexRequest{
		Index:      c.indexName(),
		DocumentID: id,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrapf(err, "failed to index document %s", id)
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error for %s: %v", id, e)
	}

	log.Debug().Str("id", id).Msg("Document indexed")
	return nil
}

// EventScanner streams stored events; the store's ScanByKeyPrefix satisfies it.
type EventScanner interface {
	ScanByKeyPrefix(ctx context.Context, prefix string, fn func(*models.Event) error) error
}

// RebuildAll drops and recreates the index, then streams every stored event
// through Upsert. IDs already indexed in this pass are skipped, so a record
// visited twice across scan pages is indexed once.
func (c *ElasticClient) RebuildAll(ctx context.Context, scanner EventScanner) (int, error) {
	if err := c.deleteIndex(ctx); err != nil {
		return 0, err
	}
	if err := c.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	indexed := 0

	err := scanner.ScanByKeyPrefix(ctx, "", func(event *models.Event) error {
		if seen[event.ID] {
			return nil
		}
		seen[event.ID] = true

		if err := c.Upsert(ctx, event); err != nil {
			return err
		}
		indexed++
		return nil
	})
	if err != nil {
		return indexed, errors.Wrap(err, "index rebuild failed")
	}

	log.Info().Int("indexed", indexed).Str("index", c.indexName()).Msg("Index rebuild complete")
	return indexed, nil
}
