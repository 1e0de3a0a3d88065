package conf

import (
	"fmt"
	"os"

	"github.com/kaggleboard/backend/blobref"
)

func GetPgConnStrFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	pw := os.Getenv("POSTGRES_PW")
	user := os.Getenv("POSTGRES_USER")
	port := os.Getenv("POSTGRES_PORT")
	db := os.Getenv("POSTGRES_DB")
	ssl := os.Getenv("POSTGRES_SSLMODE")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, pw, db, ssl)
}

func GetSubmSqsUrlFromEnv() string {
	url := os.Getenv("SUBMISSION_SQS_QUEUE_URL")
	if url == "" {
		panic("SUBMISSION_SQS_QUEUE_URL is not set")
	}
	return url
}

func GetAwsRegionFromEnv() string {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-central-1"
	}
	return region
}

func GetArtifactS3BucketFromEnv() string {
	bucket := os.Getenv("ARTIFACT_S3_BUCKET")
	if bucket == "" {
		panic("ARTIFACT_S3_BUCKET is not set")
	}
	return bucket
}

// GetBlobResolverFromEnv picks local vs production reference resolution.
// Local mode expects a media dev server address in MEDIA_BASE_URL.
func GetBlobResolverFromEnv() *blobref.Resolver {
	if os.Getenv("ENVIRONMENT") == "production" {
		return blobref.NewResolver(blobref.ModeProduction, "")
	}
	base := os.Getenv("MEDIA_BASE_URL")
	if base == "" {
		base = "http://localhost:8000/media"
	}
	return blobref.NewResolver(blobref.ModeLocal, base)
}

func GetJwtKeyFromEnv() []byte {
	key := os.Getenv("JWT_KEY")
	if key == "" {
		panic("JWT_KEY is not set")
	}
	return []byte(key)
}

// GetHostTokenHashFromEnv returns the bcrypt hash that host-side grader
// tokens are verified against on the remote result surface.
func GetHostTokenHashFromEnv() string {
	hash := os.Getenv("HOST_TOKEN_BCRYPT_HASH")
	if hash == "" {
		panic("HOST_TOKEN_BCRYPT_HASH is not set")
	}
	return hash
}

func GetPoisonDynamoTableFromEnv() string {
	return os.Getenv("POISON_DYNAMO_TABLE")
}
