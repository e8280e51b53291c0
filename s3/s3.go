package s3

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/JiscSD/rdss-repository-core/bitstore"
)

// ObjectStorage is an asset store backed by a S3 bucket. Content ids are
// keys under a common prefix.
type ObjectStorage struct {
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
}

var _ bitstore.AssetStore = (*ObjectStorage)(nil)

// New returns a store for a location such as s3://bucket/prefix.
func New(sess *session.Session, location string) (*ObjectStorage, error) {
	return NewWithClient(s3.New(sess), location)
}

// NewWithClient is New with an existing client.
func NewWithClient(client s3iface.S3API, location string) (*ObjectStorage, error) {
	bucket, prefix, err := getBucketAndKey(location)
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		return nil, errors.Errorf("location %q has no bucket", location)
	}
	return &ObjectStorage{
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		downloader: s3manager.NewDownloaderWithClient(client),
		bucket:     bucket,
		prefix:     prefix,
	}, nil
}

func (s *ObjectStorage) key(id string) string {
	return path.Join(s.prefix, id)
}

// Put uploads the content of r.
func (s *ObjectStorage) Put(ctx context.Context, id string, r io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   r,
	})
	return err
}

// Get downloads the content into memory and returns a reader over it.
func (s *ObjectStorage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	buf := aws.NewWriteAtBuffer([]byte{})
	req := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}
	if _, err := s.downloader.DownloadWithContext(ctx, buf, req); err != nil {
		return nil, err
	}
	return ioutil.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// Remove deletes the object. Deleting a missing key is not an error in S3.
func (s *ObjectStorage) Remove(ctx context.Context, id string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

func getBucketAndKey(URI string) (bucket string, key string, err error) {
	u, err := url.Parse(URI)
	if err != nil {
		return "", "", err
	}
	return u.Hostname(), strings.TrimPrefix(u.Path, "/"), nil
}
