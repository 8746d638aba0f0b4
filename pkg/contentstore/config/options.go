package config

import (
	"fmt"

	"github.com/tendant/content-store/pkg/contentstore/objectkey"
)

// WithStorageURL selects the backend from a connection string (see ParseStorageURL)
func WithStorageURL(raw string) Option {
	return func(c *Config) error {
		if _, err := ParseStorageURL(raw); err != nil {
			return err
		}
		c.StorageURL = raw
		return nil
	}
}

// WithMemoryStorage selects in-memory storage (for testing)
func WithMemoryStorage() Option {
	return WithStorageURL("memory://")
}

// WithFilesystemStorage stores content as files under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *Config) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageURL = "file://" + baseDir
		return nil
	}
}

// WithKVStorage stores content in an embedded Pebble database in dir
func WithKVStorage(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return fmt.Errorf("kv data directory cannot be empty")
		}
		c.StorageURL = "kv://" + dir
		return nil
	}
}

// WithSQLiteStorage stores content in the blob table of a SQLite database file
func WithSQLiteStorage(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("sqlite database path cannot be empty")
		}
		c.StorageURL = "sqlite://" + path
		return nil
	}
}

// WithPostgresStorage stores content in the blob table of a PostgreSQL database
func WithPostgresStorage(databaseURL string) Option {
	return func(c *Config) error {
		if databaseURL == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		return WithStorageURL(databaseURL)(c)
	}
}

// WithS3Storage stores content in S3. bucket is the default bucket; it may
// be empty when every entity names its own.
func WithS3Storage(bucket, region string) Option {
	return func(c *Config) error {
		c.StorageURL = "s3://" + bucket
		if region != "" {
			c.S3.Region = region
		}
		return nil
	}
}

// WithS3Credentials sets static AWS credentials for S3 storage
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) error {
		if (accessKeyID == "") != (secretAccessKey == "") {
			return fmt.Errorf("S3 access key and secret must be set together")
		}
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *Config) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithS3Encryption enables server-side encryption for uploads
func WithS3Encryption(algorithm, kmsKeyID string) Option {
	return func(c *Config) error {
		if algorithm != "AES256" && algorithm != "aws:kms" {
			return fmt.Errorf("SSE algorithm must be 'AES256' or 'aws:kms', got: %s", algorithm)
		}
		c.S3.EnableSSE = true
		c.S3.SSEAlgorithm = algorithm
		c.S3.SSEKMSKeyID = kmsKeyID
		return nil
	}
}

// WithDefaultBucket sets the bucket used when an entity names none
func WithDefaultBucket(bucket string) Option {
	return func(c *Config) error {
		c.DefaultBucket = bucket
		return nil
	}
}

// WithRequireBucket makes operations fail when no bucket can be resolved
func WithRequireBucket(required bool) Option {
	return func(c *Config) error {
		c.RequireBucket = required
		return nil
	}
}

// WithKeyLayout sets how content ids map to keys on the filesystem and kv
// backends: "flat", "sharded" or "hashed"
func WithKeyLayout(layout string) Option {
	return func(c *Config) error {
		if _, err := objectkey.ByName(layout); err != nil {
			return err
		}
		c.KeyLayout = layout
		return nil
	}
}

// WithBlobTable sets the SQL blob table name
func WithBlobTable(table string) Option {
	return func(c *Config) error {
		if table == "" {
			return fmt.Errorf("blob table name cannot be empty")
		}
		c.BlobTable = table
		return nil
	}
}

// WithDatabaseSchema sets the Postgres search_path
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) error {
		c.DBSchema = schema
		return nil
	}
}

// WithChunkSize sets the streaming chunk size of the postgres and kv backends
func WithChunkSize(bytes int) Option {
	return func(c *Config) error {
		if bytes <= 0 {
			return fmt.Errorf("chunk size must be positive, got: %d", bytes)
		}
		c.ChunkSize = bytes
		return nil
	}
}

// WithSpoolDir sets the directory used for temporary read spools
func WithSpoolDir(dir string) Option {
	return func(c *Config) error {
		c.SpoolDir = dir
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		if _, err := parseLevel(level); err != nil {
			return err
		}
		c.Log.Level = level
		return nil
	}
}

// WithLogFile writes logs to a rotated file instead of stderr
func WithLogFile(path string) Option {
	return func(c *Config) error {
		c.Log.File = path
		return nil
	}
}

// WithDefaults is a convenience option that resets the configuration to
// library defaults. It is useful as a base before applying more specific options.
func WithDefaults() Option {
	return func(c *Config) error {
		*c = defaults()
		return nil
	}
}
