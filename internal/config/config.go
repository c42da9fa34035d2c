package config

import (
	"os"
	"strconv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	DataDir  string

	RedisAddr     string
	RedisPassword string

	CacheMaxEntries   int
	CacheDefaultTTL   int
	CacheMaxValueSize int

	// Primary S3-compatible provider (endpoint-based, e.g. Spaces/MinIO).
	SpacesEndpoint  string
	SpacesRegion    string
	SpacesKey       string
	SpacesSecret    string
	SpacesBucket    string
	SpacesPublicURL string

	// Secondary provider: classic AWS S3.
	AWSAccessKey string
	AWSSecretKey string
	AWSRegion    string
	AWSBucket    string

	DetectorEndpoint string
	DetectorAPIKey   string
	DetectorModel    string

	MockupCatalog string

	TaskMaxRetries int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Load() Config {
	return Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8081"),
		DataDir:  getenv("DATA_DIR", "./data"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		CacheMaxEntries:   getenvInt("CACHE_MAX_ENTRIES", 256),
		CacheDefaultTTL:   getenvInt("CACHE_DEFAULT_TTL", 3600),
		CacheMaxValueSize: getenvInt("CACHE_MAX_VALUE_BYTES", 8<<20),

		SpacesEndpoint:  os.Getenv("SPACES_ENDPOINT"),
		SpacesRegion:    getenv("SPACES_REGION", "us-east-1"),
		SpacesKey:       os.Getenv("SPACES_KEY"),
		SpacesSecret:    os.Getenv("SPACES_SECRET"),
		SpacesBucket:    os.Getenv("SPACES_BUCKET"),
		SpacesPublicURL: os.Getenv("SPACES_PUBLIC_URL"),

		AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSRegion:    getenv("AWS_REGION", "us-east-1"),
		AWSBucket:    os.Getenv("AWS_S3_BUCKET"),

		DetectorEndpoint: getenv("DETECTOR_ENDPOINT", "https://api.openai.com/v1"),
		DetectorAPIKey:   os.Getenv("DETECTOR_API_KEY"),
		DetectorModel:    getenv("DETECTOR_MODEL", "gpt-4o-mini"),

		MockupCatalog: getenv("MOCKUP_CATALOG", "./assets/mockups.yaml"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),
	}
}
