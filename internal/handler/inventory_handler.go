package handler

import (
	"net/http"

	"stockledger/internal/repository"
	"stockledger/internal/service"
	"stockledger/pkg/pagination"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type InventoryHandler struct {
	inventoryService service.InventoryService
}

func NewInventoryHandler(inventoryService service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService}
}

func (h *InventoryHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/inventory", h.View)
	api.GET("/inventory/movements", h.Movements)
	api.POST("/inventory/adjust", h.Adjust)
	api.GET("/serials", h.Serials)
}

// View godoc
// @Summary      Warehouse inventory
// @Description  On-hand, committed and sellable quantities per product; combo stock is derived from components
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        warehouse_id  query     string  true   "Warehouse ID"
// @Param        search        query     string  false  "Search by name or SKU"
// @Param        category      query     string  false  "Category"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/inventory [get]
func (h *InventoryHandler) View(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	warehouseID, ok := queryID(c, "warehouse_id")
	if !ok {
		return
	}
	if warehouseID == uuid.Nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "warehouse_id is required"))
		return
	}
	p := pagination.Parse(c)
	rows, total, err := h.inventoryService.View(c.Request.Context(), a, warehouseID, repository.ProductFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("items", rows, total, p.Page, p.Limit)))
}

// Movements godoc
// @Summary      Ledger history
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        warehouse_id  query     string  false  "Warehouse ID"
// @Param        product_id    query     string  false  "Product ID"
// @Param        source        query     string  false  "transaction | transfer | stocktake | manual"
// @Param        reference_id  query     string  false  "Document ID"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/inventory/movements [get]
func (h *InventoryHandler) Movements(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	warehouseID, ok := queryID(c, "warehouse_id")
	if !ok {
		return
	}
	productID, ok := queryID(c, "product_id")
	if !ok {
		return
	}
	referenceID, ok := queryID(c, "reference_id")
	if !ok {
		return
	}
	p := pagination.Parse(c)
	moves, total, err := h.inventoryService.Movements(c.Request.Context(), a, repository.MovementFilter{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Source:      c.Query("source"),
		ReferenceID: referenceID,
		Page:        p.Page,
		Limit:       p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("movements", moves, total, p.Page, p.Limit)))
}

// Adjust godoc
// @Summary      Set on-hand quantity
// @Description  Brings a non-serialized product to an absolute quantity through the ledger
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ManualAdjustRequest  true  "Target quantity"
// @Success      200      {object}  response.Response{data=service.ManualAdjustResult}
// @Failure      409      {object}  ErrorBody
// @Failure      422      {object}  ErrorBody
// @Router       /api/inventory/adjust [post]
func (h *InventoryHandler) Adjust(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.ManualAdjustRequest
	if !bindAndValidate(c, &req) {
		return
	}
	res, err := h.inventoryService.Adjust(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Serials godoc
// @Summary      List serial numbers
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        product_id    query     string  false  "Product ID"
// @Param        warehouse_id  query     string  false  "Warehouse ID"
// @Param        status        query     string  false  "in_stock | sold"
// @Param        search        query     string  false  "Serial prefix or fragment"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/serials [get]
func (h *InventoryHandler) Serials(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	productID, ok := queryID(c, "product_id")
	if !ok {
		return
	}
	warehouseID, ok := queryID(c, "warehouse_id")
	if !ok {
		return
	}
	p := pagination.Parse(c)
	serials, total, err := h.inventoryService.Serials(c.Request.Context(), a, repository.SerialFilter{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Status:      c.Query("status"),
		Search:      c.Query("search"),
		Page:        p.Page,
		Limit:       p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("serials", serials, total, p.Page, p.Limit)))
}
