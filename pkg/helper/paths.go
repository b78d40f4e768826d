// Package helper resolves the files the server reads and writes.
package helper

import (
	"os"
	"path/filepath"
)

const (
	// ConfigDirEnv names an extra directory searched for configuration
	ConfigDirEnv = "AUTHCORE_CONFIG_DIR"
	// SystemConfigDir is the last configuration directory tried
	SystemConfigDir = "/etc/authcore"
	// DefaultPIDPath is used when no usable pid path is configured
	DefaultPIDPath = "/var/run/authserver.pid"
)

// GetCfgPath returns the path to the configuration file. An absolute
// filename is returned as is. Otherwise the first existing candidate wins:
// ./{filename}, ./configs/{filename}, $AUTHCORE_CONFIG_DIR/{filename}. The
// fallback is SystemConfigDir/{filename}.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	dirs := []string{".", "configs"}
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if path, ok := existing(filepath.Join(dir, filename)); ok {
			return path
		}
	}
	return filepath.Join(SystemConfigDir, filename)
}

// GetPIDPath returns filename made absolute against the working directory
// when its parent directory exists, and DefaultPIDPath otherwise.
func GetPIDPath(filename string) string {
	if filename == "" {
		return DefaultPIDPath
	}
	if filepath.IsAbs(filename) {
		return filename
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return DefaultPIDPath
	}
	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return DefaultPIDPath
	}
	return abs
}

func existing(path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}
