package config

type MinioConfig struct {
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"useSSL"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucketName"`
}

func (c MinioConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != ""
}

func (c *MinioConfig) applyEnv() {
	envString(&c.AccessKey, "MINIO_ACCESS_KEY")
	envString(&c.SecretKey, "MINIO_SECRET_KEY")
	envString(&c.Endpoint, "MINIO_ENDPOINT")
	envBool(&c.UseSSL, "MINIO_USE_SSL")
	envString(&c.Region, "MINIO_REGION")
	envString(&c.BucketName, "MINIO_BUCKET_NAME")
}
