package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
)

// PutObjectAPI はS3クライアントのうち保存に使う部分
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 はS3バケットへアップロードして保存する
type S3 struct {
	fs     afero.Fs
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3 は既定の認証情報でS3クライアントを作成する
func NewS3(ctx context.Context, fs afero.Fs, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3のバケットが指定されていません")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(fs, client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient は指定のクライアントでS3を作成する
func NewS3WithClient(fs afero.Fs, client PutObjectAPI, bucket, prefix string) *S3 {
	return &S3{fs: fs, client: client, bucket: bucket, prefix: prefix}
}

// Backend はバックエンド名を返す
func (s *S3) Backend() string {
	return BackendS3
}

// Save はファイルをアップロードし、s3:// 形式の場所を返す
func (s *S3) Save(ctx context.Context, path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("保存元のオープンに失敗: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("保存元の情報取得に失敗: %w", err)
	}

	key := objectName(s.prefix, path, time.Now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(path)),
	})
	if err != nil {
		return "", fmt.Errorf("S3へのアップロードに失敗: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
