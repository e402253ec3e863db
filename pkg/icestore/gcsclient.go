// Package icestore archives raw envelopes to Cloud Storage, grouped by day and
// event type.
package icestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// Archive objects are gzip compressed JSON Lines.
const (
	archiveContentType     = "application/jsonl"
	archiveContentEncoding = "gzip"
)

// GCSClient is the part of *storage.Client the uploader needs.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle is the part of *storage.BucketHandle the uploader needs.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle opens a writer for one archive object. metadata is stored
// as the object's custom metadata.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, metadata map[string]string) GCSWriter
}

// GCSWriter commits the object on Close.
type GCSWriter interface {
	io.WriteCloser
}

// NewGCSClientAdapter wraps a storage client. A nil client yields a nil GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return storageClient{client}
}

type storageClient struct{ c *storage.Client }

func (s storageClient) Bucket(name string) GCSBucketHandle {
	return storageBucket{s.c.Bucket(name)}
}

type storageBucket struct{ b *storage.BucketHandle }

func (s storageBucket) Object(name string) GCSObjectHandle {
	return storageObject{s.b.Object(name)}
}

type storageObject struct{ o *storage.ObjectHandle }

func (s storageObject) NewWriter(ctx context.Context, metadata map[string]string) GCSWriter {
	w := s.o.NewWriter(ctx)
	w.ContentType = archiveContentType
	w.ContentEncoding = archiveContentEncoding
	w.Metadata = metadata
	return w
}
