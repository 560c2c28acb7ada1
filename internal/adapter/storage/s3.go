package storage

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/semmidev/logship/internal/domain"
)

var s3RegionPattern = regexp.MustCompile(`(?i)s3[.-]([a-z0-9-]+)\.amazonaws\.com$`)

// S3Location is a parsed s3://<bucket>.s3.<region>.amazonaws.com/<key> URL.
type S3Location struct {
	Host   string
	Bucket string
	Region string
	Key    string
}

func ParseS3URL(raw string) (S3Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return S3Location{}, fmt.Errorf("invalid S3 URL %q: %w", raw, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return S3Location{}, fmt.Errorf("invalid S3 URL %q: scheme must be s3", raw)
	}

	m := s3RegionPattern.FindStringSubmatch(u.Host)
	if m == nil {
		return S3Location{}, fmt.Errorf("region not found in S3 URL %q", raw)
	}

	return S3Location{
		Host:   u.Host,
		Bucket: strings.Split(u.Host, ".")[0],
		Region: strings.ToLower(m[1]),
		Key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// URL returns the restore URL for key in the same bucket.
func (l S3Location) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", l.Host, key)
}

type S3Storage struct {
	accessKey string
	secretKey string
	newClient func(ctx context.Context, region string) (s3.ListObjectsV2APIClient, error)

	mu      sync.Mutex
	clients map[string]s3.ListObjectsV2APIClient
}

// NewS3 creates an S3 lister. With an empty key pair the default credential
// chain is used, which resolves to the instance profile on EC2.
func NewS3(accessKey, secretKey string) *S3Storage {
	s := &S3Storage{
		accessKey: accessKey,
		secretKey: secretKey,
		clients:   make(map[string]s3.ListObjectsV2APIClient),
	}
	s.newClient = s.loadClient
	return s
}

func (s *S3Storage) loadClient(ctx context.Context, region string) (s3.ListObjectsV2APIClient, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg), nil
}

func (s *S3Storage) client(ctx context.Context, region string) (s3.ListObjectsV2APIClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[region]; ok {
		return c, nil
	}

	c, err := s.newClient(ctx, region)
	if err != nil {
		return nil, err
	}
	s.clients[region] = c
	return c, nil
}

func (s *S3Storage) GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*domain.BackupFile, error) {
	loc, err := ParseS3URL(path)
	if err != nil {
		return nil, err
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	client, err := s.client(ctx, loc.Region)
	if err != nil {
		return nil, err
	}

	prefix := folderPrefix(loc.Key)
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(loc.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var files []*domain.BackupFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !directChild(key, prefix) || !re.MatchString(objectBase(key)) {
				continue
			}
			modified := aws.ToTime(obj.LastModified)
			if !notBefore(modified, minAge) {
				continue
			}
			files = append(files, domain.NewBackupFile(loc.URL(key), domain.DeviceURL, modified))
		}
	}

	sortByTime(files, ascending)
	return files, nil
}

func (s *S3Storage) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	loc, err := ParseS3URL(prefix)
	if err != nil {
		return nil, err
	}

	client, err := s.client(ctx, loc.Region)
	if err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(loc.Bucket),
		Prefix:    aws.String(folderPrefix(loc.Key)),
		Delimiter: aws.String("/"),
	})

	var folders []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 prefixes: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			folders = append(folders, objectBase(aws.ToString(cp.Prefix)))
		}
	}

	return folders, nil
}
