package handler

import (
	"net/http"

	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type WarehouseHandler struct {
	warehouseService service.WarehouseService
}

func NewWarehouseHandler(warehouseService service.WarehouseService) *WarehouseHandler {
	return &WarehouseHandler{warehouseService: warehouseService}
}

func (h *WarehouseHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/warehouses")
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.PUT("/:id", h.Update)
		group.DELETE("/:id", h.Delete)
		group.PUT("/:id/default", h.SetDefault)
	}
}

// List godoc
// @Summary      List warehouses
// @Tags         warehouses
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.Warehouse}
// @Router       /api/warehouses [get]
func (h *WarehouseHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.warehouseService.List(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, out))
}

// Create godoc
// @Summary      Create warehouse
// @Description  The first warehouse of a tenant becomes the default
// @Tags         warehouses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateWarehouseRequest  true  "Warehouse"
// @Success      201      {object}  response.Response{data=model.Warehouse}
// @Failure      422      {object}  ErrorBody
// @Router       /api/warehouses [post]
func (h *WarehouseHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateWarehouseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	w, err := h.warehouseService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, w))
}

// Update godoc
// @Summary      Update warehouse
// @Tags         warehouses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true  "Warehouse ID"
// @Param        payload  body      service.UpdateWarehouseRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=model.Warehouse}
// @Router       /api/warehouses/{id} [put]
func (h *WarehouseHandler) Update(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateWarehouseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	w, err := h.warehouseService.Update(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}

// Delete godoc
// @Summary      Delete warehouse
// @Description  Refused for the default warehouse or while it still holds stock
// @Tags         warehouses
// @Security     BearerAuth
// @Param        id   path  string  true  "Warehouse ID"
// @Success      200  {object}  response.Response
// @Router       /api/warehouses/{id} [delete]
func (h *WarehouseHandler) Delete(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.warehouseService.Delete(c.Request.Context(), a, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, nil))
}

// SetDefault godoc
// @Summary      Make warehouse the default
// @Tags         warehouses
// @Security     BearerAuth
// @Param        id   path  string  true  "Warehouse ID"
// @Success      200  {object}  response.Response{data=model.Warehouse}
// @Router       /api/warehouses/{id}/default [put]
func (h *WarehouseHandler) SetDefault(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	w, err := h.warehouseService.SetDefault(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}
