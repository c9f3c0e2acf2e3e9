package publish

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
)

type putCall struct {
	bucket string
	key    string
	size   int64
	data   []byte
	opts   minio.PutObjectOptions
}

type mockStore struct {
	buckets map[string]bool
	puts    []putCall
	putErr  error
}

func (m *mockStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.buckets[bucket], nil
}

func (m *mockStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putErr != nil {
		return minio.UploadInfo{}, m.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return minio.UploadInfo{}, err
	}
	m.puts = append(m.puts, putCall{bucket: bucket, key: key, size: size, data: buf.Bytes(), opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(buf.Len())}, nil
}
