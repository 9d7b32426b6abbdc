// Package config loads settings from the nearest .zappend file.
//
// A .zappend file is an INI file such as:
//
//	[storage]
//	base-dir = /mnt/littlefs
//
//	[archive]
//	level = 9
//	method = deflate
//
//	[verify]
//	records = 10
//	archive = test.zip
//
// Every key is optional.
package config

import (
	"github.com/nguyengg/zappend/codec"
)

// StorageConfig contains storage configurations.
type StorageConfig struct {
	// BaseDir is the directory that container paths are relative to.
	BaseDir string
}

// ForStorage returns configuration for storage.
func (l *Loader) ForStorage() (c StorageConfig) {
	sec := l.section("storage")
	if sec == nil {
		return c
	}

	c.BaseDir = sec.Key("base-dir").String()
	return
}

// ForStorage calls Loader.ForStorage on the DefaultLoader instance.
func ForStorage() StorageConfig {
	return DefaultLoader.ForStorage()
}

// ArchiveConfig contains settings for new entries.
type ArchiveConfig struct {
	// Level is the compression level; nil if not set.
	Level *int
	// Method is the compression method; zero value codec.Store is only valid if HasMethod is true.
	Method    codec.Method
	HasMethod bool
}

// ForArchive returns configuration for new entries.
//
// Invalid values are ignored.
func (l *Loader) ForArchive() (c ArchiveConfig) {
	sec := l.section("archive")
	if sec == nil {
		return c
	}

	if k, err := sec.GetKey("level"); err == nil {
		if v, err := k.Int(); err == nil && v >= 0 && v <= codec.BestCompression {
			c.Level = &v
		}
	}

	if k, err := sec.GetKey("method"); err == nil {
		c.Method, c.HasMethod = codec.ParseMethod(k.String())
	}

	return
}

// ForArchive calls Loader.ForArchive on the DefaultLoader instance.
func ForArchive() ArchiveConfig {
	return DefaultLoader.ForArchive()
}

// VerifyConfig contains settings for the verify command.
type VerifyConfig struct {
	// Records is the number of records to write; 0 if not set.
	Records int
	// Archive is the container to verify; empty if not set.
	Archive string
}

// ForVerify returns configuration for the verify command.
func (l *Loader) ForVerify() (c VerifyConfig) {
	sec := l.section("verify")
	if sec == nil {
		return c
	}

	c.Records = sec.Key("records").MustInt(0)
	c.Archive = sec.Key("archive").String()
	return
}

// ForVerify calls Loader.ForVerify on the DefaultLoader instance.
func ForVerify() VerifyConfig {
	return DefaultLoader.ForVerify()
}
