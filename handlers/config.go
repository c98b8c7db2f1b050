package handlers

import (
	"net/http"

	"assetgate/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

func (a *API) ConfigList(c *gin.Context) {
	configs, err := a.svc.ListConfigs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, DBError1Response)
		return
	}
	c.JSON(http.StatusOK, configs)
}

type ConfigGetRequest struct {
	Name    string `form:"name" binding:"required"`
	Version int    `form:"version"`
}

func (a *API) ConfigGet(c *gin.Context) {
	r := ConfigGetRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	cfg, err := a.svc.GetConfig(c.Request.Context(), r.Name, r.Version)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ConfigSave stores the posted bundle as the next version of its name.
// Missing fields keep the built-in defaults.
func (a *API) ConfigSave(c *gin.Context) {
	cfg := models.DefaultGateConfig()
	if err := c.ShouldBindWith(&cfg, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if err := a.svc.SaveConfig(c.Request.Context(), &cfg); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": cfg.Name, "version": cfg.Version})
}
