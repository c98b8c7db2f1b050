package handlers

import (
	"net/http"
	"strings"

	"assetgate/storage"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type BucketSaveRequest struct {
	ID            uint64 `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"` // file or s3
	Path          string `json:"path"`
	Endpoint      string `json:"endpoint"`
	Region        string `json:"region"`
	SSEEncryption string `json:"sse_encryption"`
	S3Key         string `json:"s3key"`
	S3Secret      string `json:"s3secret"`
}

type BucketInfo struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Path     string `json:"path"`
	Endpoint string `json:"endpoint,omitempty"`
	Region   string `json:"region,omitempty"`
}

func hasWriteAccess(s storage.StorageAPI) error {
	testPath := "tmp/write-check"
	if _, err := s.Save(testPath, strings.NewReader("some-content")); err != nil {
		return err
	}
	if err := s.UpdateFile(testPath, "text/plain"); err != nil {
		return err
	}
	if err := s.Delete(testPath); err != nil {
		return err
	}
	return s.DeleteRemoteFile(testPath)
}

func cleanupPath(path string) string {
	for strings.Contains(path, "..") {
		path = strings.ReplaceAll(path, "..", "")
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

func (a *API) BucketSave(c *gin.Context) {
	r := BucketSaveRequest{}
	if err := c.ShouldBindWith(&r, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	bucket := storage.Bucket{
		ID:            r.ID,
		Name:          r.Name,
		Path:          cleanupPath(r.Path),
		Endpoint:      r.Endpoint,
		Region:        r.Region,
		SSEEncryption: r.SSEEncryption,
	}
	if bucket.Name == "" {
		c.JSON(http.StatusBadRequest, Response{"Empty bucket name"})
		return
	}
	switch r.Type {
	case "file":
		bucket.StorageType = storage.StorageTypeFile
		if bucket.Path == "" || bucket.Path[0] != '/' {
			c.JSON(http.StatusBadRequest, Response{"Path must be absolute and start with / (slash)"})
			return
		}
	case "s3":
		bucket.StorageType = storage.StorageTypeS3
		if r.S3Key == "" || r.S3Secret == "" {
			c.JSON(http.StatusBadRequest, Response{"'S3 Key' and 'S3 Secret' must be provided"})
			return
		}
		if bucket.Region == "" {
			bucket.Region = "us-east-1"
		}
		bucket.AuthDetails = r.S3Key + ":" + r.S3Secret
	default:
		c.JSON(http.StatusBadRequest, Response{"'type' must be one of 'file' or 's3'"})
		return
	}

	s, err := storage.New(&bucket)
	if err == nil {
		err = hasWriteAccess(s)
	}
	if err != nil {
		c.JSON(http.StatusForbidden, Response{"No write access to bucket: " + err.Error()})
		return
	}
	if bucket.ID == 0 {
		err = bucket.Create(a.db)
	} else {
		err = a.db.Save(&bucket).Error
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{err.Error()})
		return
	}
	// Re-initialize storage
	if err = storage.Init(a.db, ""); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": bucket.ID})
}

func (a *API) BucketList(c *gin.Context) {
	buckets := []storage.Bucket{}
	if err := a.db.Find(&buckets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, DBError1Response)
		return
	}
	result := make([]BucketInfo, 0, len(buckets))
	for _, b := range buckets {
		info := BucketInfo{ID: b.ID, Name: b.Name, Type: "file", Path: b.Path, Endpoint: b.Endpoint, Region: b.Region}
		if b.IsS3() {
			info.Type = "s3"
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, result)
}
