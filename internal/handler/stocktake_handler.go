package handler

import (
	"errors"
	"net/http"

	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type StocktakeHandler struct {
	stocktakeService service.StocktakeService
}

func NewStocktakeHandler(stocktakeService service.StocktakeService) *StocktakeHandler {
	return &StocktakeHandler{stocktakeService: stocktakeService}
}

func (h *StocktakeHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/stocktakes")
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.GET("/:id", h.Get)
		group.PUT("/:id/start", h.Start)
		group.PUT("/:id/complete", h.Complete)
		group.PUT("/:id/cancel", h.Cancel)
		group.PUT("/:id/items/:itemId", h.SetItem)
		group.POST("/:id/scan", h.Scan)
		group.POST("/:id/fill-unset", h.FillUnset)
		group.POST("/:id/counts/save", h.SaveCounts)
		group.POST("/:id/counts/batch", h.ApplyCountBatch)
	}
}

// List godoc
// @Summary      List stocktakes
// @Tags         stocktakes
// @Security     BearerAuth
// @Produce      json
// @Param        status        query     string  false  "draft | in_progress | completed | cancelled"
// @Param        warehouse_id  query     string  false  "Warehouse ID"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/stocktakes [get]
func (h *StocktakeHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	filter, ok := documentFilter(c)
	if !ok {
		return
	}
	sessions, total, err := h.stocktakeService.List(c.Request.Context(), a, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("stocktakes", sessions, total, filter.Page, filter.Limit)))
}

// Create godoc
// @Summary      Create stocktake
// @Description  Snapshots system quantities of every product in scope
// @Tags         stocktakes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateStocktakeRequest  true  "Scope"
// @Success      201      {object}  response.Response{data=model.StocktakeSession}
// @Failure      422      {object}  ErrorBody
// @Router       /api/stocktakes [post]
func (h *StocktakeHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateStocktakeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	session, err := h.stocktakeService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, session))
}

// Get godoc
// @Summary      Get stocktake
// @Description  Includes counts entered but not yet saved
// @Tags         stocktakes
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Stocktake ID"
// @Success      200  {object}  response.Response{data=model.StocktakeSession}
// @Router       /api/stocktakes/{id} [get]
func (h *StocktakeHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	session, err := h.stocktakeService.Get(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, session))
}

// Start godoc
// @Summary      Start counting
// @Tags         stocktakes
// @Security     BearerAuth
// @Param        id   path      string  true  "Stocktake ID"
// @Success      200  {object}  response.Response{data=model.StocktakeSession}
// @Router       /api/stocktakes/{id}/start [put]
func (h *StocktakeHandler) Start(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	session, err := h.stocktakeService.Start(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, session))
}

// Complete godoc
// @Summary      Complete stocktake
// @Description  Posts every variance to the ledger. Lines that fail are reported in the summary; the session completes regardless.
// @Tags         stocktakes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true   "Stocktake ID"
// @Param        payload  body      service.CompleteStocktakeRequest  false  "Unset-count policy"
// @Success      200      {object}  response.Response{data=service.StocktakeSummary}
// @Router       /api/stocktakes/{id}/complete [put]
func (h *StocktakeHandler) Complete(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.CompleteStocktakeRequest
	if !bindOptional(c, &req) {
		return
	}
	summary, err := h.stocktakeService.Complete(c.Request.Context(), a, id, req)
	var partial *service.PartialAdjustmentError
	if err != nil && !errors.As(err, &partial) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, summary))
}

// Cancel godoc
// @Summary      Cancel stocktake
// @Tags         stocktakes
// @Security     BearerAuth
// @Param        id   path      string  true  "Stocktake ID"
// @Success      200  {object}  response.Response{data=model.StocktakeSession}
// @Router       /api/stocktakes/{id}/cancel [put]
func (h *StocktakeHandler) Cancel(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	session, err := h.stocktakeService.Cancel(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, session))
}

// SetItem godoc
// @Summary      Enter a count
// @Tags         stocktakes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Stocktake ID"
// @Param        itemId   path      string                   true  "Item ID"
// @Param        payload  body      service.SetCountRequest  true  "Count and/or note"
// @Success      200      {object}  response.Response{data=model.StocktakeItem}
// @Router       /api/stocktakes/{id}/items/{itemId} [put]
func (h *StocktakeHandler) SetItem(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	itemID, ok := paramID(c, "itemId")
	if !ok {
		return
	}
	var req service.SetCountRequest
	if !bindAndValidate(c, &req) {
		return
	}
	item, err := h.stocktakeService.SetItem(c.Request.Context(), a, id, itemID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, item))
}

// Scan godoc
// @Summary      Scan a code
// @Description  Matches the code by SKU, then by name, and adds one to that item's count
// @Tags         stocktakes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string               true  "Stocktake ID"
// @Param        payload  body      service.ScanRequest  true  "Scanned code"
// @Success      200      {object}  response.Response{data=service.ScanResult}
// @Failure      404      {object}  ErrorBody
// @Router       /api/stocktakes/{id}/scan [post]
func (h *StocktakeHandler) Scan(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.ScanRequest
	if !bindAndValidate(c, &req) {
		return
	}
	res, err := h.stocktakeService.Scan(c.Request.Context(), a, id, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// FillUnset godoc
// @Summary      Copy system quantity into uncounted items
// @Tags         stocktakes
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Stocktake ID"
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/stocktakes/{id}/fill-unset [post]
func (h *StocktakeHandler) FillUnset(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	n, err := h.stocktakeService.FillUnset(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"filled": n}))
}

// SaveCounts godoc
// @Summary      Persist pending counts
// @Tags         stocktakes
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Stocktake ID"
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/stocktakes/{id}/counts/save [post]
func (h *StocktakeHandler) SaveCounts(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	n, err := h.stocktakeService.SaveCounts(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"saved": n}))
}

// ApplyCountBatch godoc
// @Summary      Apply a batch of count edits
// @Description  Edits are ordered by seq; an edit whose seq is not newer than the stored one is ignored
// @Tags         stocktakes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Stocktake ID"
// @Param        payload  body      service.CountBatchRequest  true  "Edits"
// @Success      200      {object}  response.Response{data=object}
// @Router       /api/stocktakes/{id}/counts/batch [post]
func (h *StocktakeHandler) ApplyCountBatch(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.CountBatchRequest
	if !bindAndValidate(c, &req) {
		return
	}
	n, err := h.stocktakeService.ApplyCountBatch(c.Request.Context(), a, id, req.Events)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"applied": n}))
}
