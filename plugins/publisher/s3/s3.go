package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"rawi/pkg/contract"
)

// Options: S3 兼容对象存储的发布配置。
type Options struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`         // 对象键前缀，默认 "datasets"
	Region       string `json:"region"`         // 默认 us-east-1
	Endpoint     string `json:"endpoint"`       // 自建/兼容服务（MinIO 等）的地址
	UsePathStyle bool   `json:"use_path_style"` // 兼容服务通常需要 path-style
	StorageClass string `json:"storage_class,omitempty"`
}

// putter 为发布所需的最小 S3 接口（便于测试替换）。
type putter interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

type Publisher struct {
	api    putter
	bucket string
	prefix string
	class  types.StorageClass
}

// New 以默认凭据链（环境变量、共享配置、实例角色）构造发布器。
func New(ctx context.Context, raw json.RawMessage) (contract.Publisher, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("s3 options: %w", err)
		}
	}
	if strings.TrimSpace(o.Bucket) == "" {
		return nil, fmt.Errorf("s3: %w: bucket required", contract.ErrInvalidInput)
	}
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	api := awss3.NewFromConfig(cfg, func(so *awss3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.UsePathStyle
	})
	return newWith(api, o), nil
}

func newWith(api putter, o Options) *Publisher {
	prefix := strings.Trim(o.Prefix, "/")
	if prefix == "" {
		prefix = "datasets"
	}
	return &Publisher{api: api, bucket: o.Bucket, prefix: prefix, class: types.StorageClass(o.StorageClass)}
}

// Publish 逐个上传到 <prefix>/<dataset>/<name>，返回 s3:// 目录地址。
// 任一文件失败即返回（已上传的对象保留，重跑会覆盖）。
func (p *Publisher) Publish(ctx context.Context, dataset string, files []contract.Artifact) (string, error) {
	name := strings.Trim(dataset, "/")
	if name == "" || strings.Contains(name, "..") {
		return "", fmt.Errorf("s3: %w: dataset name %q", contract.ErrInvalidInput, dataset)
	}
	base := path.Join(p.prefix, name)
	for _, f := range files {
		if err := p.put(ctx, path.Join(base, f.Name), f); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("s3://%s/%s/", p.bucket, base), nil
}

func (p *Publisher) put(ctx context.Context, key string, f contract.Artifact) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", f.Path, err)
	}
	defer fh.Close()
	in := &awss3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   fh,
	}
	if f.ContentType != "" {
		in.ContentType = aws.String(f.ContentType)
	}
	if p.class != "" {
		in.StorageClass = p.class
	}
	if _, err := p.api.PutObject(ctx, in); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: put %s: %v", contract.ErrPublishFailed, key, err)
	}
	return nil
}

var _ contract.Publisher = (*Publisher)(nil)
