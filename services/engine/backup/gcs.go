// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSClient mirrors backup directories to a Cloud Storage bucket under
// the "backups/" prefix.
type GCSClient struct {
	storageClient *storage.Client
	BucketName    string
}

// NewGCSClient connects using a service account key when given one, or
// ambient credentials otherwise.
func NewGCSClient(ctx context.Context, bucketName, saKeyPath string) (*GCSClient, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSClient{storageClient: storageClient, BucketName: bucketName}, nil
}

func (c *GCSClient) objectPrefix(remotePrefix string) string {
	return path.Join("backups", remotePrefix)
}

// UploadFile copies one local file to a bucket object.
func (c *GCSClient) UploadFile(ctx context.Context, localPath, gcsPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.BucketName).Object(gcsPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, gcsPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", gcsPath, err)
	}
	return nil
}

// UploadDir mirrors the files of a backup directory under one prefix.
func (c *GCSClient) UploadDir(ctx context.Context, localDir, remotePrefix string) error {
	prefix := c.objectPrefix(remotePrefix)
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return c.UploadFile(ctx, p, path.Join(prefix, filepath.ToSlash(rel)))
	})
}

// DownloadDir fetches every object under a backup prefix into localDir.
func (c *GCSClient) DownloadDir(ctx context.Context, remotePrefix, localDir string) error {
	prefix := c.objectPrefix(remotePrefix) + "/"
	bucket := c.storageClient.Bucket(c.BucketName)
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	found := false
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		found = true
		rel := strings.TrimPrefix(attrs.Name, prefix)
		local := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return err
		}
		if err := c.downloadObject(ctx, attrs.Name, local); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("no objects under gs://%s/%s", c.BucketName, prefix)
	}
	return nil
}

func (c *GCSClient) downloadObject(ctx context.Context, gcsPath, localPath string) error {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(gcsPath).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", gcsPath, err)
	}
	defer reader.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("failed to download GCS object %s: %w", gcsPath, err)
	}
	return nil
}
