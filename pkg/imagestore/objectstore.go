package imagestore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ObjectStore is the narrow blob-storage capability the image store
// needs; S3 is the production implementation, tests use an in-memory
// fake.
type ObjectStore interface {
	PutObject(bucket, key string, data io.ReadSeeker) error
	GetObject(bucket, key string) (io.ReadCloser, error)
	ListObjects(bucket, prefix string) ([]string, error)
}

type ObjectNotFoundErr struct {
	Bucket string
	Key    string
}

func (err *ObjectNotFoundErr) Error() string {
	return fmt.Sprintf("object not found: bucket `%s`, key `%s`", err.Bucket, err.Key)
}

type S3ObjectStore struct {
	Client *s3.S3
}

func (store *S3ObjectStore) PutObject(bucket, key string, data io.ReadSeeker) error {
	_, err := store.Client.PutObject(&s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   data,
	})
	return err
}

func (store *S3ObjectStore) GetObject(bucket, key string) (io.ReadCloser, error) {
	rsp, err := store.Client.GetObject(&s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if err, ok := err.(awserr.Error); ok {
			if err.Code() == s3.ErrCodeNoSuchKey {
				return nil, &ObjectNotFoundErr{Bucket: bucket, Key: key}
			}
		}
		return nil, err
	}
	return rsp.Body, nil
}

func (store *S3ObjectStore) ListObjects(bucket, prefix string) ([]string, error) {
	var keys []string
	err := store.Client.ListObjectsPages(
		&s3.ListObjectsInput{
			Bucket: &bucket,
			Prefix: &prefix,
		},
		func(rsp *s3.ListObjectsOutput, lastPage bool) bool {
			for _, object := range rsp.Contents {
				keys = append(keys, *object.Key)
			}
			return true
		},
	)
	return keys, err
}

// GzipObjectStore compresses objects on the way in and decompresses on
// the way out; disk images are mostly zeros, so this routinely shrinks
// uploads by an order of magnitude.
type GzipObjectStore struct {
	ObjectStore
}

func (store *GzipObjectStore) PutObject(bucket, key string, data io.ReadSeeker) error {
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := io.Copy(w, data); err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}
	return store.ObjectStore.PutObject(bucket, key, bytes.NewReader(b.Bytes()))
}

func (store *GzipObjectStore) GetObject(bucket, key string) (io.ReadCloser, error) {
	body, err := store.ObjectStore.GetObject(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("getting object from storage: %w", err)
	}
	r, err := gzip.NewReader(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	return &gzipReadCloser{inner: body, reader: r}, nil
}

type gzipReadCloser struct {
	inner  io.ReadCloser
	reader *gzip.Reader
}

func (grc *gzipReadCloser) Read(p []byte) (int, error) {
	return grc.reader.Read(p)
}

func (grc *gzipReadCloser) Close() error {
	if err := grc.reader.Close(); err != nil {
		grc.inner.Close()
		return err
	}
	return grc.inner.Close()
}
