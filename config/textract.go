package config

// TextractConfig enables OCR of image uploads. Credentials fall back to the S3 ones.
type TextractConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	// MinConfidence drops recognised lines scored below it (0-100).
	MinConfidence float32 `yaml:"minConfidence"`
	EnableTable   bool    `yaml:"enableTable"`
}

func (c *TextractConfig) applyEnv() {
	envBool(&c.Enabled, "TEXTRACT_ENABLED")
	envString(&c.Region, "TEXTRACT_REGION")
	envString(&c.AccessKey, "TEXTRACT_ACCESS_KEY")
	envString(&c.SecretKey, "TEXTRACT_SECRET_KEY")
	envBool(&c.EnableTable, "TEXTRACT_ENABLE_TABLE")
	if c.AccessKey == "" {
		envString(&c.AccessKey, "AWS_ACCESS_KEY")
		envString(&c.SecretKey, "AWS_SECRET_KEY")
	}
}

// TesseractConfig enables local OCR. It only takes effect in binaries built with the
// tesseract tag, which links libtesseract.
type TesseractConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
	// MinWidth upscales narrower scans before recognition.
	MinWidth int `yaml:"minWidth"`
}

func (c *TesseractConfig) applyEnv() {
	envBool(&c.Enabled, "TESSERACT_ENABLED")
	envStrings(&c.Languages, "TESSERACT_LANGUAGES")
}
