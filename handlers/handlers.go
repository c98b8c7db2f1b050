package handlers

import (
	"errors"
	"net/http"

	"assetgate/auth"
	"assetgate/errs"
	"assetgate/logger"
	"assetgate/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Response struct {
	Error string `json:"error"`
}

var (
	// Predefined errors
	OKResponse       = Response{}
	DBError1Response = Response{"DB Error 1"}
)

type API struct {
	db  *gorm.DB
	log *logger.Logger
	svc *validation.Service
}

func New(db *gorm.DB, log *logger.Logger, svc *validation.Service) *API {
	return &API{db: db, log: log.With("component", "http"), svc: svc}
}

func (a *API) Register(r *auth.Router) {
	// Validation
	r.POST("/pipeline/run", a.PipelineRun)
	r.POST("/identity/check", a.IdentityCheck)
	r.PUT("/asset/upload", a.AssetUpload)
	r.GET("/asset/status", a.AssetStatus)
	// References
	r.POST("/reference/add", a.ReferenceAdd)
	r.GET("/reference/list", a.ReferenceList)
	r.GET("/character/stats", a.CharacterStats)
	// Gate configs
	r.GET("/config/list", a.ConfigList)
	r.GET("/config/get", a.ConfigGet)
	r.POST("/config/save", a.ConfigSave, auth.PermissionAdmin)
	// Buckets
	r.GET("/bucket/list", a.BucketList, auth.PermissionAdmin)
	r.POST("/bucket/save", a.BucketSave, auth.PermissionAdmin)
}

// fail answers with the status matching the error kind
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrAssetNotFound), errors.Is(err, errs.ErrConfigNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrEncodingFailure), errors.Is(err, errs.ErrDimensionMismatch):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, Response{err.Error()})
}
