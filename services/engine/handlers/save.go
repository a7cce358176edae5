// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/transcripts"
)

// Save persists a session record and queues it for background processing.
// Lite saves (summary only) and transcript saves get their structured fields
// filled by extraction before the record is written; explicit fields from the
// caller are never overridden.
func Save(store *sessions.Store, tstore *transcripts.Store, extract Extractor,
	queue Queue, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}

		if req.SessionID == "" {
			req.SessionID = newSessionID(time.Now())
		}
		if req.Source == "" {
			req.Source = defaultSource
		}
		record := &datatypes.SessionRecord{
			SessionID:      req.SessionID,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			Source:         req.Source,
			Summary:        req.Summary,
			RawSummary:     req.RawSummary,
			KeyTopics:      req.KeyTopics,
			FilesChanged:   req.FilesChanged,
			Decisions:      req.Decisions,
			Failures:       req.Failures,
			NextSteps:      req.NextSteps,
			Tags:           req.Tags,
			ProjectState:   req.ProjectState,
			Significance:   req.Significance,
			TranscriptPath: req.TranscriptPath,
		}

		var parts []string
		if req.Transcript != "" {
			res, err := tstore.Save(req.SessionID, req.Transcript)
			if err != nil {
				logger.Warn("transcript save failed", "session_id", req.SessionID, "error", err)
			} else {
				record.TranscriptPath = res.Path
				parts = append(parts, "transcript stored")
			}
			fields, err := extract.ExtractFromTranscript(c.Request.Context(),
				transcripts.TruncateForSummary(req.Transcript))
			if err != nil {
				logger.Warn("transcript extraction failed", "session_id", req.SessionID, "error", err)
			} else {
				mergeExtracted(record, fields)
				parts = append(parts, "fields extracted from transcript")
			}
		} else if record.IsLite() && req.Summary != "" {
			fields, err := extract.ExtractSessionFields(c.Request.Context(), req.Summary)
			if err != nil {
				logger.Warn("field extraction failed", "session_id", req.SessionID, "error", err)
			} else {
				mergeExtracted(record, fields)
				parts = append(parts, "fields extracted")
			}
		}
		if record.Significance == "" {
			record.Significance = datatypes.SignificanceMedium
		}

		file, err := writeAndEnqueue(store, queue, record)
		if err != nil {
			logger.Error("session write failed", "session_id", req.SessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist session"})
			return
		}
		logger.Info("session saved", "session_id", req.SessionID, "file", file)

		msg := "session saved and queued"
		if len(parts) > 0 {
			msg = fmt.Sprintf("session saved and queued (%s)", strings.Join(parts, ", "))
		}
		c.JSON(http.StatusOK, datatypes.SaveResponse{
			Status:    "queued",
			SessionID: req.SessionID,
			Message:   msg,
		})
	}
}

// Checkpoint records a mid-conversation note without ending the session.
// Unlike Save it always runs extraction, since checkpoint notes are free text.
func Checkpoint(store *sessions.Store, tstore *transcripts.Store, extract Extractor,
	queue Queue, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CheckpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}

		sid := req.SessionID
		if sid == "" && req.TranscriptPath != "" {
			stem := strings.TrimSuffix(filepath.Base(req.TranscriptPath), filepath.Ext(req.TranscriptPath))
			sid = "transcript-" + stem
		}
		if sid == "" {
			sid = newSessionID(time.Now())
		}

		if req.Source == "" {
			req.Source = defaultSource
		}
		record := &datatypes.SessionRecord{
			SessionID:    sid,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Source:       req.Source,
			Summary:      req.Note,
			Significance: req.Significance,
		}

		transcript := req.Transcript
		if transcript == "" && req.TranscriptPath != "" {
			data, err := os.ReadFile(req.TranscriptPath)
			if err != nil {
				logger.Warn("checkpoint transcript unreadable", "path", req.TranscriptPath, "error", err)
			} else {
				transcript = string(data)
			}
		}
		if transcript != "" {
			if res, err := tstore.Save(sid, transcript); err == nil {
				record.TranscriptPath = res.Path
			}
			fields, err := extract.ExtractFromTranscript(c.Request.Context(),
				transcripts.TruncateForSummary(transcript))
			if err != nil {
				logger.Warn("checkpoint extraction failed", "session_id", sid, "error", err)
			} else {
				mergeExtracted(record, fields)
			}
		} else {
			fields, err := extract.ExtractSessionFields(c.Request.Context(), req.Note)
			if err != nil {
				logger.Warn("checkpoint extraction failed", "session_id", sid, "error", err)
			} else {
				mergeExtracted(record, fields)
			}
		}
		if record.Significance == "" {
			record.Significance = datatypes.SignificanceMedium
		}

		file, err := writeAndEnqueue(store, queue, record)
		if err != nil {
			logger.Error("checkpoint write failed", "session_id", sid, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist checkpoint"})
			return
		}
		logger.Info("checkpoint saved", "session_id", sid, "file", file)
		c.JSON(http.StatusOK, datatypes.SaveResponse{
			Status:    "queued",
			SessionID: sid,
			Message:   "checkpoint saved and queued",
		})
	}
}

// mergeExtracted fills empty record fields from extraction output. The
// caller's explicit values always win.
func mergeExtracted(record *datatypes.SessionRecord, fields *datatypes.ExtractedFields) {
	if fields == nil {
		return
	}
	if record.Summary == "" {
		record.Summary = fields.Summary
	}
	if len(record.KeyTopics) == 0 {
		record.KeyTopics = fields.KeyTopics
	}
	if len(record.FilesChanged) == 0 {
		record.FilesChanged = fields.FilesChanged
	}
	if len(record.Decisions) == 0 {
		record.Decisions = fields.Decisions
	}
	if len(record.Failures) == 0 {
		record.Failures = fields.Failures
	}
	if len(record.NextSteps) == 0 {
		record.NextSteps = fields.NextSteps
	}
	if len(record.Tags) == 0 {
		record.Tags = fields.Tags
	}
	if record.Significance == "" {
		record.Significance = fields.Significance
	}
}

func writeAndEnqueue(store *sessions.Store, queue Queue, record *datatypes.SessionRecord) (string, error) {
	if err := store.Write(record); err != nil {
		return "", err
	}
	file := record.SessionID + ".json"
	queue.Enqueue(record.SessionID, file)
	return file, nil
}
