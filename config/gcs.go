package config

import (
	"os"
	"sync"
)

var (
	gcsOnce   sync.Once
	gcsConfig *GCSConfig
)

// GCSConfig locates the Cloud Storage bucket. Credentials come from the
// standard GOOGLE_APPLICATION_CREDENTIALS lookup unless CredentialsFile is set.
type GCSConfig struct {
	BucketName      string
	CredentialsFile string
}

func GetGCSConfig() *GCSConfig {
	gcsOnce.Do(func() {
		loadDotEnv()
		gcsConfig = &GCSConfig{
			BucketName:      os.Getenv("GCS_BUCKET_NAME"),
			CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		}
	})
	return gcsConfig
}
