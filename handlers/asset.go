package handlers

import (
	"net/http"

	"assetgate/models"

	"github.com/gin-gonic/gin"
)

type AssetUploadRequest struct {
	Path      string `form:"path" binding:"required"`
	Character string `form:"character"`
	Prompt    string `form:"prompt"`
}

// AssetUpload stores the raw request body. The asset is validated later by
// the background processing.
func (a *API) AssetUpload(c *gin.Context) {
	r := AssetUploadRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	asset, err := a.svc.StoreUpload(c.Request.Context(), r.Path, r.Character, r.Prompt, c.Request.Body)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

type AssetStatusRequest struct {
	ID uint64 `form:"id" binding:"required"`
}

type AssetStatusResponse struct {
	Asset   models.Asset        `json:"asset"`
	Results []models.GateResult `json:"results"`
}

func (a *API) AssetStatus(c *gin.Context) {
	r := AssetStatusRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	asset, results, err := a.svc.AssetStatus(c.Request.Context(), r.ID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AssetStatusResponse{Asset: asset, Results: results})
}
