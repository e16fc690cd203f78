package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a photo storage backend.
type Config struct {
	Driver Driver
	// FSRoot is the directory root when Driver is fs (default ./blobdata).
	FSRoot string
	// FSBaseURL prefixes keys to form URLs when Driver is fs.
	FSBaseURL string
	S3        S3Config
}

// Open constructs the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
