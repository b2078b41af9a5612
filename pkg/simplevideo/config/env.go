package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Backend URL formats:
//
//	DATABASE_URL  memory | postgres://... | mongodb://host/db?collection=videos | dynamodb://<table>
//	STORAGE_URL   memory://<bucket> | s3://<bucket>?region=&endpoint=&path_style=true
//	              (comma-separated for several buckets; the first is the default)
//	COMPUTE_URL   empty (distribution off) | memory://<address> | ec2:// | ec2://<region>
//	LOCK_URL      local:// | redis://host:6379/0

type databaseTarget struct {
	Kind       string // memory, postgres, mongo, dynamodb
	URL        string
	Database   string
	Collection string
	Table      string
}

func parseDatabaseURL(raw string) (databaseTarget, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return databaseTarget{Kind: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return databaseTarget{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return databaseTarget{Kind: "postgres", URL: raw}, nil
	case "mongodb", "mongodb+srv":
		t := databaseTarget{
			Kind:       "mongo",
			Database:   strings.TrimPrefix(u.Path, "/"),
			Collection: u.Query().Get("collection"),
		}
		if t.Database == "" {
			t.Database = "simplevideo"
		}
		q := u.Query()
		q.Del("collection")
		u.RawQuery = q.Encode()
		t.URL = u.String()
		return t, nil
	case "dynamodb":
		if u.Host == "" {
			return databaseTarget{}, fmt.Errorf("DynamoDB table name cannot be empty in DATABASE_URL")
		}
		return databaseTarget{Kind: "dynamodb", Table: u.Host}, nil
	default:
		return databaseTarget{}, fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...', 'mongodb://...' or 'dynamodb://<table>')", raw)
	}
}

type storageTarget struct {
	Kind      string // memory, s3
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

func parseStorageURLs(raw string) ([]storageTarget, error) {
	var targets []storageTarget
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseStorageURL(part)
		if err != nil {
			return nil, err
		}
		if seen[t.Bucket] {
			return nil, fmt.Errorf("bucket %q configured twice in STORAGE_URL", t.Bucket)
		}
		seen[t.Bucket] = true
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("STORAGE_URL is required")
	}
	return targets, nil
}

func parseStorageURL(raw string) (storageTarget, error) {
	if raw == "memory" {
		return storageTarget{Kind: "memory", Bucket: "videos"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return storageTarget{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "memory":
		bucket := u.Host
		if bucket == "" {
			bucket = "videos"
		}
		return storageTarget{Kind: "memory", Bucket: bucket}, nil
	case "s3":
		if u.Host == "" {
			return storageTarget{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		t := storageTarget{
			Kind:     "s3",
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if v := q.Get("path_style"); v != "" {
			if t.PathStyle, err = strconv.ParseBool(v); err != nil {
				return storageTarget{}, fmt.Errorf("invalid path_style in STORAGE_URL: %w", err)
			}
		}
		return t, nil
	default:
		return storageTarget{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://<bucket>' or 's3://<bucket>')", raw)
	}
}

type computeTarget struct {
	Kind    string // none, memory, ec2
	Address string
	Region  string
}

func parseComputeURL(raw string) (computeTarget, error) {
	if raw == "" || raw == "none" {
		return computeTarget{Kind: "none"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return computeTarget{}, fmt.Errorf("invalid COMPUTE_URL: %w", err)
	}

	switch u.Scheme {
	case "memory":
		address := u.Host
		if address == "" {
			address = "127.0.0.1"
		}
		return computeTarget{Kind: "memory", Address: address}, nil
	case "ec2":
		return computeTarget{Kind: "ec2", Region: u.Host}, nil
	default:
		return computeTarget{}, fmt.Errorf("unsupported COMPUTE_URL format: %s (use 'memory://<address>' or 'ec2://<region>')", raw)
	}
}

type lockTarget struct {
	Kind string // local, redis
	URL  string
}

func parseLockURL(raw string) (lockTarget, error) {
	if raw == "" || raw == "local" || raw == "local://" {
		return lockTarget{Kind: "local"}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return lockTarget{}, fmt.Errorf("invalid LOCK_URL: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		return lockTarget{Kind: "redis", URL: raw}, nil
	default:
		return lockTarget{}, fmt.Errorf("unsupported LOCK_URL format: %s (use 'local://' or 'redis://...')", raw)
	}
}
