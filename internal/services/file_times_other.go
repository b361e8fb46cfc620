//go:build !linux

package services

import (
	"os"
	"time"
)

func fileCreatedAt(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}
