package config

// S3Config configures the s3:// blob scheme. An empty BucketName means the
// bucket always comes from the URL.
type S3Config struct {
	BucketName string `yaml:"bucketName"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
}

// Enabled reports whether enough is configured to build a client.
func (c S3Config) Enabled() bool {
	return c.Region != "" && c.AccessKey != "" && c.SecretKey != ""
}

func (c *S3Config) applyEnv() {
	envString(&c.BucketName, "AWS_S3_BUCKET_NAME")
	envString(&c.Region, "AWS_REGION")
	envString(&c.Endpoint, "AWS_ENDPOINT")
	envString(&c.AccessKey, "AWS_ACCESS_KEY")
	envString(&c.SecretKey, "AWS_SECRET_KEY")
}
