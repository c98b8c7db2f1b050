package handlers

import (
	"net/http"

	"assetgate/gates"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type PipelineRunRequest struct {
	ImagePath string `json:"image_path" binding:"required"`
	Character string `json:"character"`
	Config    string `json:"config"`
}

type PipelineRunResponse struct {
	Error   string         `json:"error"`
	Verdict *gates.Verdict `json:"verdict"`
}

// PipelineRun answers 200 with the verdict even when the asset failed. An
// aborted gate answers 503 with the stored verdict so the caller can retry.
func (a *API) PipelineRun(c *gin.Context) {
	r := PipelineRunRequest{}
	if err := c.ShouldBindWith(&r, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	v, err := a.svc.RunPipeline(c.Request.Context(), r.ImagePath, r.Character, r.Config)
	if err != nil {
		if v == nil {
			a.fail(c, err)
			return
		}
		c.JSON(http.StatusServiceUnavailable, PipelineRunResponse{Error: err.Error(), Verdict: v})
		return
	}
	c.JSON(http.StatusOK, PipelineRunResponse{Verdict: v})
}

type IdentityCheckRequest struct {
	ImagePath string  `json:"image_path" binding:"required"`
	Character string  `json:"character" binding:"required"`
	Threshold float64 `json:"threshold"`
}

func (a *API) IdentityCheck(c *gin.Context) {
	r := IdentityCheckRequest{}
	if err := c.ShouldBindWith(&r, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	check, err := a.svc.IdentityScore(c.Request.Context(), r.ImagePath, r.Character, r.Threshold)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
