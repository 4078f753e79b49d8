package storage

import (
	"net/url"
	"path/filepath"
)

// localBucketURL returns a fileblob URL for dir.
func localBucketURL(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// s3BucketURL builds an s3blob URL. A custom endpoint switches to path
// style addressing for B2, R2 and MinIO.
func s3BucketURL(bucket, endpoint, region string) string {
	bucketURL := "s3://" + bucket

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}
