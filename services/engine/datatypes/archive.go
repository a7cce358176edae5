// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Document is a stored archive entry as returned by the vector store.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchHit is a Document with its similarity scoring attached.
type SearchHit struct {
	Document
	Collection string  `json:"collection"`
	Distance   float64 `json:"distance"`
	Relevance  float64 `json:"relevance"`
}
