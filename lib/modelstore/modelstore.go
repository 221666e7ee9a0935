// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package modelstore pushes trained model files to S3 compatible object
// storage and fetches them back.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Scheme is the URL scheme of object storage locations.
const Scheme = "s3"

// checksumKey is the user metadata key holding the hex sha256 of a model.
const checksumKey = "Sha256"

var (
	// ErrInvalidURL is returned for locations that are not s3://bucket/key.
	ErrInvalidURL = errors.New("invalid object storage url")

	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("model object not found")

	// ErrChecksum is returned when a fetched object does not match the
	// checksum recorded when it was pushed.
	ErrChecksum = errors.New("model checksum mismatch")
)

// Location names an object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsURL reports whether s looks like an object storage location.
func IsURL(s string) bool {
	return strings.HasPrefix(s, Scheme+"://")
}

// ParseURL parses s3://bucket/key. A key ending in "/" names a prefix; base,
// when not empty, is appended to it.
func ParseURL(raw, base string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != Scheme || u.Host == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		if base == "" {
			return Location{}, fmt.Errorf("%w: %q has no object key", ErrInvalidURL, raw)
		}
		key += base
	}
	return Location{Bucket: u.Host, Key: key}, nil
}

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Store moves model files in and out of a bucket.
type Store struct {
	client objectAPI
	logger *zap.Logger
}

// New connects to the endpoint in cfg.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return newStore(client, logger), nil
}

func newStore(client objectAPI, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// Object describes a stored model.
type Object struct {
	Location Location
	Size     int64
	SHA256   string
}

// Push uploads the file at localPath to loc, recording its sha256.
func (s *Store) Push(ctx context.Context, localPath string, loc Location) (*Object, error) {
	ok, err := s.client.BucketExists(ctx, loc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", loc.Bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: bucket %s does not exist", ErrNotFound, loc.Bucket)
	}

	sum, size, err := fileChecksum(localPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening model: %w", err)
	}
	defer func() { _ = f.Close() }()

	s.logger.Info("Uploading model",
		zap.String("path", localPath),
		zap.Stringer("location", loc),
		zap.Int64("size", size))

	info, err := s.client.PutObject(ctx, loc.Bucket, loc.Key, f, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{checksumKey: sum},
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", loc, err)
	}
	return &Object{Location: loc, Size: info.Size, SHA256: sum}, nil
}

// Fetch downloads loc into dir and returns the local path. The object is
// written under its base name and verified against the checksum recorded by
// Push, when there is one.
func (s *Store) Fetch(ctx context.Context, loc Location, dir string) (string, error) {
	info, err := s.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return "", fmt.Errorf("stat %s: %w", loc, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	dest := filepath.Join(dir, path.Base(loc.Key))
	tmp := dest + ".tmp"
	s.logger.Info("Downloading model",
		zap.Stringer("location", loc),
		zap.String("path", dest),
		zap.Int64("size", info.Size))
	if err := s.client.FGetObject(ctx, loc.Bucket, loc.Key, tmp, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("downloading %s: %w", loc, err)
	}

	if want := info.UserMetadata[checksumKey]; want != "" {
		got, _, err := fileChecksum(tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return "", err
		}
		if got != want {
			_ = os.Remove(tmp)
			return "", fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksum, loc, want, got)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("renaming model: %w", err)
	}
	return dest, nil
}

func fileChecksum(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
