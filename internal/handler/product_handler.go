package handler

import (
	"net/http"

	"stockledger/internal/repository"
	"stockledger/internal/service"
	"stockledger/pkg/pagination"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	productService service.ProductService
}

func NewProductHandler(productService service.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

func (h *ProductHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/products")
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.GET("/:id", h.Get)
		group.PUT("/:id", h.Update)
		group.DELETE("/:id", h.Delete)
		group.GET("/:id/combo-items", h.ComboItems)
		group.PUT("/:id/combo-items", h.SetComboItems)
	}
}

// List godoc
// @Summary      List products
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Items per page (default 20)"
// @Param        search    query     string  false  "Search by name or SKU"
// @Param        category  query     string  false  "Category"
// @Success      200       {object}  response.Response{data=object}
// @Router       /api/products [get]
func (h *ProductHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)
	products, total, err := h.productService.List(c.Request.Context(), a, repository.ProductFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("products", products, total, p.Page, p.Limit)))
}

// Get godoc
// @Summary      Get product
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Product ID"
// @Success      200  {object}  response.Response{data=model.Product}
// @Router       /api/products/{id} [get]
func (h *ProductHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.productService.Get(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p))
}

// Create godoc
// @Summary      Create product
// @Description  Creates a simple product, a variant (parent_id) or a combo (is_combo)
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateProductRequest  true  "Product"
// @Success      201      {object}  response.Response{data=model.Product}
// @Failure      422      {object}  ErrorBody
// @Router       /api/products [post]
func (h *ProductHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateProductRequest
	if !bindAndValidate(c, &req) {
		return
	}
	p, err := h.productService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, p))
}

// Update godoc
// @Summary      Update product
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Product ID"
// @Param        payload  body      service.UpdateProductRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=model.Product}
// @Router       /api/products/{id} [put]
func (h *ProductHandler) Update(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateProductRequest
	if !bindAndValidate(c, &req) {
		return
	}
	p, err := h.productService.Update(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p))
}

// Delete godoc
// @Summary      Delete product
// @Tags         products
// @Security     BearerAuth
// @Param        id   path  string  true  "Product ID"
// @Success      200  {object}  response.Response
// @Router       /api/products/{id} [delete]
func (h *ProductHandler) Delete(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.productService.Delete(c.Request.Context(), a, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, nil))
}

// ComboItems godoc
// @Summary      Combo bill of materials
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Combo product ID"
// @Success      200  {object}  response.Response{data=[]model.ComboItem}
// @Router       /api/products/{id}/combo-items [get]
func (h *ProductHandler) ComboItems(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	items, err := h.productService.ComboItems(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

// SetComboItems godoc
// @Summary      Replace combo bill of materials
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Combo product ID"
// @Param        payload  body      service.SetComboItemsRequest  true  "Components"
// @Success      200      {object}  response.Response{data=[]model.ComboItem}
// @Failure      422      {object}  ErrorBody
// @Router       /api/products/{id}/combo-items [put]
func (h *ProductHandler) SetComboItems(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.SetComboItemsRequest
	if !bindAndValidate(c, &req) {
		return
	}
	items, err := h.productService.SetComboItems(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}
