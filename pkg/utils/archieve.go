package utils

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const archiveExtension = ".zip"

// ArchiveName returns the final archive file name. A non-empty target name is
// used as is, with the extension appended when missing.
func ArchiveName(targetName string, now time.Time) string {
	name := strings.TrimSpace(targetName)
	name = strings.Trim(strings.ReplaceAll(name, "\\", "/"), "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("batch_%s%s", now.Format("20060102_150405"), archiveExtension)
	}
	if !strings.HasSuffix(strings.ToLower(name), archiveExtension) {
		name += archiveExtension
	}
	return name
}

func BuildRemotePath(destinationPath, filename string) string {
	if destinationPath == "" {
		return filename
	}

	destinationPath = strings.TrimPrefix(destinationPath, "/")

	if destinationPath != "" && !strings.HasSuffix(destinationPath, "/") {
		destinationPath += "/"
	}

	return destinationPath + filename
}

func CleanupTempFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to cleanup temporary file %s: %w", path, err)
	}
	return nil
}
