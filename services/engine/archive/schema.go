// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package archive

import (
	"github.com/weaviate/weaviate/entities/models"

	"github.com/millyweb/contextengine/services/engine/config"
)

// classNames maps collection names to their Weaviate class names.
var classNames = map[string]string{
	"project_archive": "ProjectArchive",
	"decisions":       "Decisions",
	"failures":        "Failures",
	"entities":        "Entities",
	"sessions":        "Sessions",
	"patterns":        "Patterns",
	"snapshots":       "Snapshots",
	"anomalies":       "Anomalies",
}

func className(collection string) string {
	return classNames[config.ResolveCollection(collection)]
}

// collectionClass builds the schema for one collection. All collections
// share the same shape: a content field the server-side vectorizer embeds,
// a stable doc_id, and flat metadata columns with an overflow JSON field.
func collectionClass(collection string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       classNames[collection],
		Description: "ContextEngine archive collection: " + collection,
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Stable engine-assigned document id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The document body; the only vectorized field.",
				Tokenization: "word",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "created_at",
				DataType:        []string{"text"},
				Description:     "RFC 3339 creation time, lexically comparable.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "updated_at",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"text"},
				Description:     "Session timestamp carried from the record.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "topics",
				DataType:        []string{"text"},
				Description:     "Comma-joined topic list.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "tags",
				DataType:        []string{"text"},
				Description:     "Comma-joined tag list.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "significance",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "meta_json",
				DataType:    []string{"text"},
				Description: "JSON object of metadata keys without a column.",
			},
		},
	}
}
