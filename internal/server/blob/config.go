package blob

import "fmt"

const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

type Config struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendS3:
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("blob s3: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown blob backend %q", c.Backend)
	}
}
