// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package export publishes projection results outside the process: result
// files to Google Cloud Storage and yield tables to InfluxDB.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOptions configures a GCSUploader.
type GCSOptions struct {
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// Endpoint overrides the storage endpoint, for emulators. Requests to
	// it are unauthenticated.
	Endpoint string

	Logger *slog.Logger
}

// objectWriterFunc opens a writer for one object.
type objectWriterFunc func(ctx context.Context, object, contentType string) io.WriteCloser

// GCSUploader uploads result files to a bucket.
type GCSUploader struct {
	client    *storage.Client
	bucket    string
	prefix    string
	newWriter objectWriterFunc
	logger    *slog.Logger
}

// NewGCSUploader creates a storage client for opts.Bucket.
func NewGCSUploader(ctx context.Context, opts GCSOptions) (*GCSUploader, error) {
	if opts.Bucket == "" {
		return nil, errors.New("export: bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		if _, err := os.Stat(opts.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", opts.CredentialsFile, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := &GCSUploader{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logger.With(slog.String("component", "forward.export.gcs"), slog.String("bucket", opts.Bucket)),
	}
	u.newWriter = u.storageWriter
	return u, nil
}

func (u *GCSUploader) storageWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

// ObjectName is the object a file at rel, relative to the uploaded
// directory, is stored under.
func (u *GCSUploader) ObjectName(rel string) string {
	rel = filepath.ToSlash(rel)
	if u.prefix == "" {
		return rel
	}
	return path.Join(u.prefix, rel)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/octet-stream"
}

// UploadFile copies one local file to object.
func (u *GCSUploader) UploadFile(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.newWriter(ctx, object, contentTypeFor(localPath))
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish gs://%s/%s: %w", u.bucket, object, err)
	}
	u.logger.Debug("uploaded", slog.String("file", localPath), slog.String("object", object))
	return nil
}

// UploadDir uploads every regular file under dir, keeping the relative
// layout under the prefix. Hidden files and directories are skipped.
//
// Outputs:
//
//	int - Files uploaded before any failure.
//	error - The first failure.
func (u *GCSUploader) UploadDir(ctx context.Context, dir string) (int, error) {
	var n int
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := u.UploadFile(ctx, p, u.ObjectName(rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	u.logger.Info("uploaded directory", slog.String("dir", dir), slog.Int("files", n))
	return n, nil
}
