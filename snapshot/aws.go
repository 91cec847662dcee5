package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

type awsConfig struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string
	Insecure  bool
	PathStyle bool
}

type awsSink struct {
	client *s3.Client
	cfg    awsConfig
}

func parseAWSURL(u *url.URL) (awsConfig, error) {
	bucket := strings.TrimSpace(u.Host)
	if bucket == "" {
		return awsConfig{}, fmt.Errorf("aws: missing bucket (expected aws://bucket[/prefix])")
	}
	query := u.Query()
	cfg := awsConfig{
		Bucket:   bucket,
		Prefix:   strings.Trim(strings.TrimPrefix(u.Path, "/"), "/"),
		Region:   strings.TrimSpace(query.Get("region")),
		Endpoint: strings.TrimSpace(query.Get("endpoint")),
	}
	if cfg.Region == "" {
		cfg.Region = firstEnv("ETCDGW_AWS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if cfg.Region == "" {
		return awsConfig{}, fmt.Errorf("aws: region required (set ?region= or AWS_REGION)")
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			cfg.Insecure = ok
		}
	}
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			cfg.PathStyle = ok
		}
	}
	return cfg, nil
}

func newAWSSink(ctx context.Context, cfg awsConfig) (*awsSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(&http.Client{Transport: defaultTransport()}),
	)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				scheme := "https"
				if cfg.Insecure {
					scheme = "http"
				}
				endpoint = scheme + "://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &awsSink{client: cli, cfg: cfg}, nil
}

func (s *awsSink) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(objectKey(s.cfg.Prefix, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("aws: put %s: %w", name, err)
	}
	return nil
}

func (s *awsSink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey(s.cfg.Prefix, name)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("aws: get %s: %w", name, err)
	}
	return resp.Body, nil
}

func (s *awsSink) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.cfg.Prefix != "" {
		prefix = s.cfg.Prefix + "/"
	}
	var names []string
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("aws: list: %w", err)
		}
		for _, object := range resp.Contents {
			rel := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			if rel == "" || strings.Contains(rel, "/") {
				continue
			}
			names = append(names, rel)
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return names, nil
}

func (s *awsSink) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	key := aws.String(objectKey(s.cfg.Prefix, name))
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: key}); err != nil {
		if isAWSNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("aws: head %s: %w", name, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: key}); err != nil {
		return fmt.Errorf("aws: delete %s: %w", name, err)
	}
	return nil
}

func (s *awsSink) Close() error { return nil }

func isAWSNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
