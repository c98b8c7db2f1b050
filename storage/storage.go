package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"
)

// StorageAPI is the asset store the gates read image bytes from. Paths are
// relative to the bucket.
type StorageAPI interface {
	GetFullPath(path string) string
	EnsureLocalFile(path string) error
	ReleaseLocalFile(path string)
	UpdateFile(path, mimeType string) error
	DeleteRemoteFile(path string) error

	GetSize(path string) int64
	Save(path string, reader io.Reader) (int64, error)
	Load(path string, writer io.Writer) (int64, error)
	Delete(path string) error
	GetBucket() *Bucket
}

var (
	cachedStorage []StorageAPI
	cacheMutex    sync.RWMutex
)

// Init loads all buckets and creates the default disk bucket when none exist.
func Init(db *gorm.DB, defaultBucketDir string) error {
	if err := db.AutoMigrate(&Bucket{}); err != nil {
		return err
	}
	var buckets []Bucket
	if err := db.Find(&buckets).Error; err != nil {
		return err
	}
	if len(buckets) == 0 && defaultBucketDir != "" {
		b := Bucket{Name: "default", StorageType: StorageTypeFile, Path: defaultBucketDir}
		if err := b.Create(db); err != nil {
			return err
		}
		buckets = append(buckets, b)
	}
	loaded := []StorageAPI{}
	for i := range buckets {
		s, err := New(&buckets[i])
		if err != nil {
			return err
		}
		loaded = append(loaded, s)
	}
	cacheMutex.Lock()
	cachedStorage = loaded
	cacheMutex.Unlock()
	return nil
}

func New(bucket *Bucket) (StorageAPI, error) {
	switch bucket.StorageType {
	case StorageTypeFile:
		return NewDiskStorage(bucket), nil
	case StorageTypeS3:
		return NewS3Storage(bucket), nil
	}
	return nil, fmt.Errorf("storage type unavailable for bucket %d", bucket.ID)
}

func StorageFrom(bucket *Bucket) StorageAPI {
	cacheMutex.RLock()
	defer cacheMutex.RUnlock()
	for _, s := range cachedStorage {
		if s.GetBucket().ID == bucket.ID {
			return s
		}
	}
	return nil
}

// GetDefaultStorage prefers disk buckets
func GetDefaultStorage() StorageAPI {
	cacheMutex.RLock()
	defer cacheMutex.RUnlock()
	for _, s := range cachedStorage {
		if s.GetBucket().StorageType == StorageTypeFile {
			return s
		}
	}
	for _, s := range cachedStorage {
		return s
	}
	return nil
}

// ReadAll returns the content of path, downloading it first for remote buckets.
func ReadAll(s StorageAPI, path string) ([]byte, error) {
	if err := s.EnsureLocalFile(path); err != nil {
		return nil, err
	}
	defer s.ReleaseLocalFile(path)
	return os.ReadFile(s.GetFullPath(path))
}

// Storage holds what is common to all buckets, the methods work on the local
// copy of a file.
type Storage struct {
	Bucket Bucket
	full   func(path string) string
}

func (s *Storage) GetBucket() *Bucket {
	return &s.Bucket
}

func (s *Storage) GetSize(path string) int64 {
	fi, err := os.Stat(s.full(path))
	if err != nil {
		return -1
	}
	return fi.Size()
}

func (s *Storage) Save(path string, reader io.Reader) (int64, error) {
	fileName := s.full(path)
	if err := os.MkdirAll(filepath.Dir(fileName), 0777); err != nil {
		return 0, err
	}
	file, err := os.Create(fileName)
	if err != nil {
		return 0, err
	}
	result, err := io.Copy(file, reader)
	file.Close()
	return result, err
}

func (s *Storage) Load(path string, writer io.Writer) (int64, error) {
	file, err := os.Open(s.full(path))
	if err != nil {
		return 0, err
	}
	result, err := io.Copy(writer, file)
	file.Close()
	return result, err
}

func (s *Storage) Delete(path string) error {
	return os.Remove(s.full(path))
}
