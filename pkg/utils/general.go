package utils

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadConfig loads a .env file from the given path when present.
// Missing files are not an error, real environments export vars directly.
func LoadConfig(path string) {
	envPath := path + "/.env"
	if _, err := os.Stat(envPath); err != nil {
		return
	}
	if err := godotenv.Load(envPath); err != nil {
		logrus.Warnf("[CONFIG] Failed to load %s: %v", envPath, err)
	}
}

// CreateFolder ensures every given directory exists.
func CreateFolder(folders ...string) error {
	for _, folder := range folders {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", folder, err)
		}
	}
	return nil
}
