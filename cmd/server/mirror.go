package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mojoee/Abmarl/internal/persistence/mirror"
)

// buildMirror returns nil unless ABMARL_MIRROR is true.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("ABMARL_MIRROR", false) {
		return nil, nil
	}
	cfg := mirror.S3Config{
		Endpoint:        strings.TrimSpace(os.Getenv("ABMARL_S3_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("ABMARL_S3_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("ABMARL_S3_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("ABMARL_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("ABMARL_S3_SECRET_ACCESS_KEY")),
	}
	client, err := mirror.NewS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("ABMARL_MIRROR=true: %w", err)
	}
	opts := mirror.Options{Workers: envInt("ABMARL_MIRROR_WORKERS", 2)}
	return mirror.New(client, dataDir, os.Getenv("ABMARL_S3_PREFIX"), opts, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
