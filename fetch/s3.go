package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hazyhaar/docstream/horosafe"
)

// s3Client returns the lazily created S3 client. Credentials and region
// come from the default AWS chain unless Config overrides the region.
func (f *Fetcher) s3Client(ctx context.Context) (*s3.Client, error) {
	f.s3Once.Do(func() {
		var opts []func(*config.LoadOptions) error
		if f.config.S3Region != "" {
			opts = append(opts, config.WithRegion(f.config.S3Region))
		}
		cfg, err := config.LoadDefaultConfig(context.WithoutCancel(ctx), opts...)
		if err != nil {
			f.s3Err = fmt.Errorf("fetch: aws config: %w", err)
			return
		}
		endpoint := f.config.S3Endpoint
		f.s3 = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return f.s3, f.s3Err
}

// fetchS3 downloads s3://bucket/key.
func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) (*Result, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("fetch: s3 url needs bucket and key: %q", u.String())
	}
	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	body, err := horosafe.LimitedReadAll(out.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: s3 read %s/%s: %w", bucket, key, err)
	}
	res := &Result{
		Body:        body,
		StatusCode:  http.StatusOK,
		ContentType: aws.ToString(out.ContentType),
		URL:         u.String(),
		Hash:        hashBody(body),
		ETag:        aws.ToString(out.ETag),
		Changed:     true,
	}
	if out.LastModified != nil {
		res.LastMod = out.LastModified.UTC().Format(http.TimeFormat)
	}
	return res, nil
}
