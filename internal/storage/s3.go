// Package storage は投稿画像のオブジェクトストレージ（S3互換）を提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config はS3ImageStoreの設定。
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // MinIO等のS3互換エンドポイント。空の場合はAWS
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PublicURL    string // 画像URLのベース。例: https://account.blob.example.com/images
}

// objectAPI はS3ImageStoreが使うS3クライアントの操作。
// *s3.Client が実装し、テストではモックに置き換える。
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var _ objectAPI = (*s3.Client)(nil)

// S3ImageStore は投稿画像をS3互換ストレージに保存する。
type S3ImageStore struct {
	client    objectAPI
	bucket    string
	publicURL string
}

// NewS3ImageStore はAWS SDKの設定を読み込み、S3ImageStoreを生成する。
// AccessKeyとSecretKeyが両方指定された場合は静的クレデンシャルを使い、
// それ以外はデフォルトのクレデンシャルチェーン（環境変数、IAMロール等）を使う。
func NewS3ImageStore(ctx context.Context, cfg Config) (*S3ImageStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("image store bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3ImageStore(client, cfg), nil
}

func newS3ImageStore(client objectAPI, cfg Config) *S3ImageStore {
	return &S3ImageStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// Put は画像をnameのキーで保存する。
func (s *S3ImageStore) Put(ctx context.Context, name string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload image %s: %w", name, err)
	}
	return nil
}

// Delete は画像を削除する。存在しないキーの削除はS3の仕様上成功する。
func (s *S3ImageStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", name, err)
	}
	return nil
}

// URL は画像の公開URLを返す。nameが空の場合は空文字列。
func (s *S3ImageStore) URL(name string) string {
	if name == "" {
		return ""
	}
	return s.publicURL + "/" + url.PathEscape(name)
}

// HealthCheck はバケットへの疎通を確認する。
func (s *S3ImageStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("image store health check failed: %w", err)
	}
	return nil
}
