package handlers

import (
	"net/http"

	"assetgate/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type ReferenceAddRequest struct {
	ImagePath     string               `json:"image_path" binding:"required"`
	Character     string               `json:"character" binding:"required"`
	ReferenceType models.ReferenceType `json:"reference_type"`
	Weight        float64              `json:"weight"`
	CreatedBy     string               `json:"created_by"`
}

func (a *API) ReferenceAdd(c *gin.Context) {
	r := ReferenceAddRequest{}
	if err := c.ShouldBindWith(&r, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if r.ReferenceType == "" {
		r.ReferenceType = models.ReferenceManual
	}
	if r.CreatedBy == "" {
		r.CreatedBy = "api"
	}
	added, err := a.svc.AddReference(c.Request.Context(), r.ImagePath, r.Character, r.ReferenceType, r.Weight, r.CreatedBy)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

type CharacterRequest struct {
	Character string `form:"character" binding:"required"`
	All       bool   `form:"all"`
}

func (a *API) ReferenceList(c *gin.Context) {
	r := CharacterRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	refs, err := a.svc.References(c.Request.Context(), r.Character, r.All)
	if err != nil {
		c.JSON(http.StatusInternalServerError, DBError1Response)
		return
	}
	c.JSON(http.StatusOK, refs)
}

func (a *API) CharacterStats(c *gin.Context) {
	r := CharacterRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	stats, err := a.svc.CharacterStats(c.Request.Context(), r.Character)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
