package icestore

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// mockGCSWriter is a mock GCSWriter that writes to an in-memory buffer.
type mockGCSWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

func (m *mockGCSWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Bytes()
}

// mockGCSObjectHandle is a mock GCSObjectHandle.
type mockGCSObjectHandle struct {
	writer   *mockGCSWriter
	metadata map[string]string
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, metadata map[string]string) GCSWriter {
	m.metadata = metadata
	return m.writer
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{writer: &mockGCSWriter{closeErr: m.closeErr}}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) objectNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	return names
}

// mockGCSClient is a mock GCSClient with a single bucket.
type mockGCSClient struct {
	bucket *mockGCSBucketHandle
	mu     sync.Mutex
	names  []string
}

func newMockGCSClient(failClose bool) *mockGCSClient {
	b := &mockGCSBucketHandle{}
	if failClose {
		b.closeErr = errors.New("gcs commit failed")
	}
	return &mockGCSClient{bucket: b}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return m.bucket
}

// mockFinalUploader is a mock implementation of the DataUploader interface.
type mockFinalUploader struct {
	sync.Mutex
	UploadBatchFn func(ctx context.Context, items []*ArchivalData) error
	callCount     int
	receivedItems [][]*ArchivalData
	closed        bool
}

func (m *mockFinalUploader) UploadBatch(ctx context.Context, items []*ArchivalData) error {
	m.Lock()
	defer m.Unlock()
	m.callCount++
	m.receivedItems = append(m.receivedItems, items)
	if m.UploadBatchFn != nil {
		return m.UploadBatchFn(ctx, items)
	}
	return nil
}

func (m *mockFinalUploader) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

func (m *mockFinalUploader) GetCallCount() int {
	m.Lock()
	defer m.Unlock()
	return m.callCount
}

func (m *mockFinalUploader) GetReceivedItems() [][]*ArchivalData {
	m.Lock()
	defer m.Unlock()
	return m.receivedItems
}
