// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package archive is the vector store layer.
//
// # Description
//
// Each collection is one Weaviate class with a fixed shape: the vectorized
// content field, the engine's stable doc_id, and flat metadata columns.
// Weaviate object UUIDs are derived deterministically from the doc_id so
// documents can be fetched, replaced, and deleted without a lookup query.
//
// Every store operation reports its outcome to the degradation manager so
// the rest of the pipeline can adapt when the vector store is down.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/degradation"
)

// Search distance ceilings per use. Hits farther than the ceiling are
// dropped as noise.
const (
	DistanceLoad     = 1.5
	DistanceFailures = 1.2
	DistanceSearch   = 1.8
	DistanceCorrect  = 0.5
)

// Prune batch sizes: read pages of 500, delete in chunks of 100.
const (
	pruneReadBatch   = 500
	pruneDeleteBatch = 100
)

// docNamespace seeds deterministic object UUIDs.
var docNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("contextengine/archive"))

// Store wraps the Weaviate client for the engine's collections.
type Store struct {
	client  *weaviate.Client
	degrade *degradation.Manager
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore builds a Store. The client is typically created in main from
// weaviate.Config{Host, Scheme}.
func NewStore(client *weaviate.Client, degrade *degradation.Manager, logger *slog.Logger) *Store {
	return &Store{client: client, degrade: degrade, logger: logger, now: time.Now}
}

// EnsureSchema creates any collection classes that do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for collection := range config.Collections {
		exists, err := s.client.Schema().ClassExistenceChecker().
			WithClassName(classNames[collection]).Do(ctx)
		if err != nil {
			s.degrade.RecordFailure(degradation.DepArchive, err)
			return fmt.Errorf("check class %s: %w", collection, err)
		}
		if exists {
			continue
		}
		if err := s.client.Schema().ClassCreator().
			WithClass(collectionClass(collection)).Do(ctx); err != nil {
			s.degrade.RecordFailure(degradation.DepArchive, err)
			return fmt.Errorf("create class %s: %w", collection, err)
		}
		s.logger.Info("created archive collection", "collection", collection)
	}
	s.degrade.RecordSuccess(degradation.DepArchive)
	return nil
}

// objectID derives the stable Weaviate UUID for a document.
func objectID(collection, docID string) string {
	return uuid.NewSHA1(docNamespace, []byte(collection+"/"+docID)).String()
}

// Relevance converts a cosine distance into the 0..1 score served to
// clients, rounded to three decimals.
func Relevance(distance float64) float64 {
	return math.Round((1-distance/2)*1000) / 1000
}

// Add stores a new document, stamping created_at.
func (s *Store) Add(ctx context.Context, collection, docID, content string, metadata map[string]any) error {
	collection = config.ResolveCollection(collection)
	props := s.properties(docID, content, metadata)
	props["created_at"] = s.now().UTC().Format(time.RFC3339)

	_, err := s.client.Data().Creator().
		WithClassName(classNames[collection]).
		WithID(objectID(collection, docID)).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return fmt.Errorf("add %s/%s: %w", collection, docID, err)
	}
	s.degrade.RecordSuccess(degradation.DepArchive)
	return nil
}

// Upsert replaces a document if it exists, else creates it. Replacements
// stamp updated_at and keep the original created_at when known.
func (s *Store) Upsert(ctx context.Context, collection, docID, content string, metadata map[string]any) error {
	collection = config.ResolveCollection(collection)
	id := objectID(collection, docID)

	exists, err := s.client.Data().Checker().
		WithClassName(classNames[collection]).WithID(id).Do(ctx)
	if err != nil {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return fmt.Errorf("check %s/%s: %w", collection, docID, err)
	}
	if !exists {
		return s.Add(ctx, collection, docID, content, metadata)
	}

	existing, _ := s.GetByDocID(ctx, collection, docID)
	props := s.properties(docID, content, metadata)
	props["updated_at"] = s.now().UTC().Format(time.RFC3339)
	if existing != nil {
		if created, ok := existing.Metadata["created_at"].(string); ok && created != "" {
			props["created_at"] = created
		}
	}

	if err := s.client.Data().Updater().
		WithClassName(classNames[collection]).
		WithID(id).
		WithProperties(props).
		Do(ctx); err != nil {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return fmt.Errorf("update %s/%s: %w", collection, docID, err)
	}
	s.degrade.RecordSuccess(degradation.DepArchive)
	return nil
}

// Delete removes a document by its engine id. Missing documents are not
// an error.
func (s *Store) Delete(ctx context.Context, collection, docID string) error {
	collection = config.ResolveCollection(collection)
	err := s.client.Data().Deleter().
		WithClassName(classNames[collection]).
		WithID(objectID(collection, docID)).
		Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "404") {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return fmt.Errorf("delete %s/%s: %w", collection, docID, err)
	}
	return nil
}

// GetByDocID fetches one document. A missing document returns (nil, nil).
func (s *Store) GetByDocID(ctx context.Context, collection, docID string) (*datatypes.Document, error) {
	collection = config.ResolveCollection(collection)
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(classNames[collection]).
		WithID(objectID(collection, docID)).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, nil
		}
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return nil, fmt.Errorf("get %s/%s: %w", collection, docID, err)
	}
	if len(objs) == 0 {
		return nil, nil
	}
	doc := documentFromProperties(objs[0].Properties)
	return &doc, nil
}

// Search runs a nearText query against one collection, dropping hits past
// maxDistance (0 = no ceiling).
func (s *Store) Search(ctx context.Context, collection, query string, limit int, maxDistance float64) ([]datatypes.SearchHit, error) {
	collection = config.ResolveCollection(collection)
	if limit <= 0 {
		limit = 5
	}

	near := s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	resp, err := s.client.GraphQL().Get().
		WithClassName(classNames[collection]).
		WithFields(rowFields(true)...).
		WithNearText(near).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	s.degrade.RecordSuccess(degradation.DepArchive)

	rows, err := rowsFromResponse(resp, classNames[collection])
	if err != nil {
		return nil, err
	}
	hits := make([]datatypes.SearchHit, 0, len(rows))
	for _, r := range rows {
		if maxDistance > 0 && r.Additional.Distance > maxDistance {
			continue
		}
		hits = append(hits, datatypes.SearchHit{
			Document:   r.document(),
			Collection: collection,
			Distance:   r.Additional.Distance,
			Relevance:  Relevance(r.Additional.Distance),
		})
	}
	return hits, nil
}

// GetRecent returns the n newest documents by created_at. It over-fetches
// and sorts client-side since created_at is a lexically ordered string.
func (s *Store) GetRecent(ctx context.Context, collection string, n int) ([]datatypes.Document, error) {
	collection = config.ResolveCollection(collection)
	resp, err := s.client.GraphQL().Get().
		WithClassName(classNames[collection]).
		WithFields(rowFields(false)...).
		WithLimit(2 * n).
		Do(ctx)
	if err != nil {
		s.degrade.RecordFailure(degradation.DepArchive, err)
		return nil, fmt.Errorf("recent %s: %w", collection, err)
	}
	rows, err := rowsFromResponse(resp, classNames[collection])
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt > rows[j].CreatedAt })
	if len(rows) > n {
		rows = rows[:n]
	}
	docs := make([]datatypes.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	collection = config.ResolveCollection(collection)
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(classNames[collection]).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	var parsed struct {
		Aggregate map[string][]struct {
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"Aggregate"`
	}
	if err := reparse(resp, &parsed); err != nil {
		return 0, err
	}
	rows := parsed.Aggregate[classNames[collection]]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Meta.Count, nil
}

// Snapshot copies a document into the snapshots collection before a
// destructive change. The snapshot id encodes origin and time.
func (s *Store) Snapshot(ctx context.Context, collection, docID string) (string, error) {
	collection = config.ResolveCollection(collection)
	doc, err := s.GetByDocID(ctx, collection, docID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("snapshot %s/%s: document not found", collection, docID)
	}
	snapID := fmt.Sprintf("%s:%s:%s", collection, docID, s.now().UTC().Format("20060102150405"))
	meta := map[string]any{
		"source_collection": collection,
		"source_id":         docID,
		"snapshot_at":       s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Add(ctx, "snapshots", snapID, doc.Content, meta); err != nil {
		return "", err
	}
	return snapID, nil
}

// staleDocIDs scans a collection for documents whose age timestamp falls
// before the cutoff (RFC 3339 string compare). Documents with no usable
// timestamp are never pruned.
func (s *Store) staleDocIDs(ctx context.Context, collection, cutoff string) ([]string, error) {
	var doomed []string
	offset := 0
	for {
		resp, err := s.client.GraphQL().Get().
			WithClassName(classNames[collection]).
			WithFields(graphql.Field{Name: "doc_id"}, graphql.Field{Name: "created_at"},
				graphql.Field{Name: "timestamp"}, graphql.Field{Name: "updated_at"}).
			WithLimit(pruneReadBatch).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			s.degrade.RecordFailure(degradation.DepArchive, err)
			return nil, fmt.Errorf("prune scan %s: %w", collection, err)
		}
		rows, err := rowsFromResponse(resp, classNames[collection])
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if ts := pruneTimestamp(r); ts != "" && ts < cutoff {
				doomed = append(doomed, r.DocID)
			}
		}
		if len(rows) < pruneReadBatch {
			break
		}
		offset += pruneReadBatch
	}
	return doomed, nil
}

// pruneTimestamp picks the document's age for retention: created_at when
// present, then the document's own timestamp, then updated_at.
func pruneTimestamp(r row) string {
	for _, ts := range []string{r.CreatedAt, r.Timestamp, r.UpdatedAt} {
		if ts != "" {
			return ts
		}
	}
	return ""
}

// StaleCount reports how many documents Prune would delete, without
// deleting anything.
func (s *Store) StaleCount(ctx context.Context, collection, cutoff string) (int, error) {
	doomed, err := s.staleDocIDs(ctx, config.ResolveCollection(collection), cutoff)
	if err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Prune deletes documents created before the cutoff. Reads page through
// the collection; deletes go out in chunks.
func (s *Store) Prune(ctx context.Context, collection, cutoff string) (int, error) {
	collection = config.ResolveCollection(collection)
	doomed, err := s.staleDocIDs(ctx, collection, cutoff)
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(doomed); start += pruneDeleteBatch {
		end := start + pruneDeleteBatch
		if end > len(doomed) {
			end = len(doomed)
		}
		where := filters.Where().
			WithPath([]string{"doc_id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(doomed[start:end]...)
		if _, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(classNames[collection]).
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx); err != nil {
			return start, fmt.Errorf("prune delete %s: %w", collection, err)
		}
	}
	if len(doomed) > 0 {
		s.logger.Info("pruned collection", "collection", collection, "deleted", len(doomed))
	}
	return len(doomed), nil
}

// Export dumps every collection for backup.
func (s *Store) Export(ctx context.Context) (map[string][]datatypes.Document, error) {
	out := make(map[string][]datatypes.Document, len(config.Collections))
	for collection := range config.Collections {
		var docs []datatypes.Document
		offset := 0
		for {
			resp, err := s.client.GraphQL().Get().
				WithClassName(classNames[collection]).
				WithFields(rowFields(false)...).
				WithLimit(pruneReadBatch).
				WithOffset(offset).
				Do(ctx)
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", collection, err)
			}
			rows, err := rowsFromResponse(resp, classNames[collection])
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				docs = append(docs, r.document())
			}
			if len(rows) < pruneReadBatch {
				break
			}
			offset += pruneReadBatch
		}
		out[collection] = docs
	}
	return out, nil
}

// Import restores an exported dump, upserting every document.
func (s *Store) Import(ctx context.Context, dump map[string][]datatypes.Document) (int, error) {
	restored := 0
	for collection, docs := range dump {
		for _, d := range docs {
			if err := s.Upsert(ctx, collection, d.ID, d.Content, d.Metadata); err != nil {
				return restored, err
			}
			restored++
		}
	}
	return restored, nil
}

// =============================================================================
// Property mapping
// =============================================================================

// columnKeys are metadata keys with their own schema column.
var columnKeys = map[string]bool{
	"session_id": true, "timestamp": true, "topics": true, "tags": true,
	"significance": true, "source": true, "created_at": true, "updated_at": true,
}

// CleanMetadata flattens metadata the way the store accepts it: scalars
// pass through, lists become JSON strings, nils become empty strings, and
// anything else is string-converted.
func CleanMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string, bool, int, int64, float64:
			out[k] = val
		case []string, []any:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// properties maps a document onto the class columns, spilling unknown
// metadata keys into meta_json.
func (s *Store) properties(docID, content string, metadata map[string]any) map[string]any {
	props := map[string]any{
		"doc_id":  docID,
		"content": content,
	}
	overflow := map[string]any{}
	for k, v := range CleanMetadata(metadata) {
		if columnKeys[k] {
			props[k] = fmt.Sprint(v)
		} else {
			overflow[k] = v
		}
	}
	if len(overflow) > 0 {
		b, _ := json.Marshal(overflow)
		props["meta_json"] = string(b)
	}
	return props
}

type row struct {
	DocID        string `json:"doc_id"`
	Content      string `json:"content"`
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Timestamp    string `json:"timestamp"`
	Topics       string `json:"topics"`
	Tags         string `json:"tags"`
	Significance string `json:"significance"`
	Source       string `json:"source"`
	MetaJSON     string `json:"meta_json"`
	Additional   struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

func (r row) document() datatypes.Document {
	meta := map[string]any{}
	if r.MetaJSON != "" {
		_ = json.Unmarshal([]byte(r.MetaJSON), &meta)
	}
	for k, v := range map[string]string{
		"session_id": r.SessionID, "created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt, "timestamp": r.Timestamp,
		"topics": r.Topics, "tags": r.Tags,
		"significance": r.Significance, "source": r.Source,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return datatypes.Document{ID: r.DocID, Content: r.Content, Metadata: meta}
}

func documentFromProperties(props models.PropertySchema) datatypes.Document {
	b, _ := json.Marshal(props)
	var r row
	_ = json.Unmarshal(b, &r)
	return r.document()
}

func rowFields(withDistance bool) []graphql.Field {
	fields := []graphql.Field{
		{Name: "doc_id"}, {Name: "content"}, {Name: "session_id"},
		{Name: "created_at"}, {Name: "updated_at"}, {Name: "timestamp"},
		{Name: "topics"}, {Name: "tags"}, {Name: "significance"},
		{Name: "source"}, {Name: "meta_json"},
	}
	if withDistance {
		fields = append(fields, graphql.Field{
			Name:   "_additional",
			Fields: []graphql.Field{{Name: "distance"}},
		})
	}
	return fields
}

// reparse converts Weaviate's dynamic response data into a typed struct
// via a JSON round trip.
func reparse(resp *models.GraphQLResponse, out any) error {
	if resp == nil {
		return fmt.Errorf("nil graphql response")
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}
	b, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func rowsFromResponse(resp *models.GraphQLResponse, class string) ([]row, error) {
	var parsed struct {
		Get map[string][]row `json:"Get"`
	}
	if err := reparse(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed.Get[class], nil
}
