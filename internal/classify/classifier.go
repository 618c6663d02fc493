package classify

import (
	"os"
	"path/filepath"
	"strings"
)

const fallbackCategory = "其他"

// Classifier maps a filename extension to a category directory name.
// It is a pure lookup; the download core treats it as injectable.
type Classifier struct {
	rules map[string][]string
}

func DefaultRules() map[string][]string {
	return map[string][]string{
		"视频":  {".mp4", ".avi", ".mkv", ".mov"},
		"音频":  {".mp3", ".flac", ".wav", ".aac"},
		"文档":  {".pdf", ".doc", ".docx", ".xls", ".xlsx"},
		"压缩包": {".zip", ".rar", ".7z", ".tar.gz"},
		"程序":  {".exe", ".msi"},
		"图片":  {".jpg", ".png", ".gif", ".bmp", ".webp"},
	}
}

func NewClassifier(rules map[string][]string) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// extractExtension returns the lower-cased extension, recognizing the
// compound ".tar.gz".
func extractExtension(filename string) string {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.gz") {
		return ".tar.gz"
	}
	return filepath.Ext(lower)
}

func (c *Classifier) Classify(filename string) string {
	ext := extractExtension(filename)
	if ext == "" {
		return fallbackCategory
	}
	for category, extensions := range c.rules {
		for _, ruleExt := range extensions {
			if ext == strings.ToLower(ruleExt) {
				return category
			}
		}
	}
	return fallbackCategory
}

// MoveToCategory moves the file into its category subdirectory under
// baseDir, creating the directory on demand. Returns the new path.
func (c *Classifier) MoveToCategory(filePath, baseDir string) (string, error) {
	category := c.Classify(filepath.Base(filePath))
	destDir := filepath.Join(baseDir, category)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filepath.Base(filePath))
	if err := os.Rename(filePath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// UpdateRules replaces the rule map.
func (c *Classifier) UpdateRules(rules map[string][]string) {
	if len(rules) > 0 {
		c.rules = rules
	}
}
