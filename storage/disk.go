package storage

import "path/filepath"

type DiskStorage struct {
	Storage
	// BasePath is a directory (usually mount point of a disk) that is writable by the current process
	BasePath string
}

func NewDiskStorage(bucket *Bucket) StorageAPI {
	s := &DiskStorage{
		BasePath: bucket.Path,
		Storage:  Storage{Bucket: *bucket},
	}
	s.full = s.GetFullPath
	return s
}

func (s *DiskStorage) GetFullPath(path string) string {
	return filepath.Join(s.BasePath, filepath.Clean("/"+path))
}

// Files are always local
func (s *DiskStorage) EnsureLocalFile(path string) error {
	return nil
}

func (s *DiskStorage) ReleaseLocalFile(path string) {}

func (s *DiskStorage) UpdateFile(path, mimeType string) error {
	return nil
}

func (s *DiskStorage) DeleteRemoteFile(path string) error {
	return nil
}
