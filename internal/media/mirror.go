/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media copies card audio into S3-compatible object storage so that
// playlists keep working after Notion's signed file URLs expire.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/config"
	"github.com/friendsincode/palmcards/internal/telemetry"
)

const maxAudioBytes = 20 << 20

// S3Config configures the mirror bucket.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	PublicBaseURL   string
	UsePathStyle    bool
}

// ConfigFromApp extracts the mirror settings from the application config.
func ConfigFromApp(cfg *config.Config) S3Config {
	return S3Config{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		Endpoint:        cfg.S3Endpoint,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		UsePathStyle:    cfg.S3UsePathStyle,
	}
}

// objectAPI is the part of the S3 client the mirror uses.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror implements catalog.Mirror on top of S3.
type S3Mirror struct {
	cfg    S3Config
	client objectAPI
	http   *http.Client
	known  sync.Map // object key -> struct{}
	logger zerolog.Logger
}

// NewS3Mirror creates a mirror with a real S3 client.
func NewS3Mirror(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	} else {
		logger.Warn().Msg("S3 credentials not configured, falling back to the default AWS chain")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newMirror(cfg, client, nil, logger), nil
}

func newMirror(cfg S3Config, client objectAPI, httpClient *http.Client, logger zerolog.Logger) *S3Mirror {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   60 * time.Second,
			Transport: telemetry.Transport(http.DefaultTransport),
		}
	}
	return &S3Mirror{
		cfg:    cfg,
		client: client,
		http:   httpClient,
		logger: logger.With().Str("component", "media_mirror").Logger(),
	}
}

// MirrorAudio copies sourceURL to <prefix>/<key>.mp3 unless the object
// already exists, and returns the object's public URL.
func (m *S3Mirror) MirrorAudio(ctx context.Context, key, sourceURL string) (string, error) {
	objectKey := m.objectKey(key)
	if _, ok := m.known.Load(objectKey); ok {
		return m.URL(objectKey), nil
	}

	exists, err := m.exists(ctx, objectKey)
	if err != nil {
		telemetry.MirrorUploadsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if exists {
		telemetry.MirrorUploadsTotal.WithLabelValues("exists").Inc()
		m.known.Store(objectKey, struct{}{})
		return m.URL(objectKey), nil
	}

	data, contentType, err := m.fetch(ctx, sourceURL)
	if err != nil {
		telemetry.MirrorUploadsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		telemetry.MirrorUploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("put %s: %w", objectKey, err)
	}

	telemetry.MirrorUploadsTotal.WithLabelValues("uploaded").Inc()
	m.known.Store(objectKey, struct{}{})
	m.logger.Debug().Str("key", objectKey).Int("bytes", len(data)).Msg("audio mirrored")
	return m.URL(objectKey), nil
}

// URL returns the public URL for an object key.
func (m *S3Mirror) URL(objectKey string) string {
	switch {
	case m.cfg.PublicBaseURL != "":
		return strings.TrimRight(m.cfg.PublicBaseURL, "/") + "/" + objectKey
	case m.cfg.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(m.cfg.Endpoint, "/"), m.cfg.Bucket, objectKey)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", m.cfg.Bucket, m.cfg.Region, objectKey)
	}
}

func (m *S3Mirror) objectKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, key)
	return path.Join(m.cfg.Prefix, key+".mp3")
}

func (m *S3Mirror) exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) && (coded.ErrorCode() == "NotFound" || coded.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", objectKey, err)
}

func (m *S3Mirror) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, "", fmt.Errorf("audio exceeds %d bytes", maxAudioBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "audio/mpeg"
	}
	return data, contentType, nil
}
