package handler

import (
	"net/http"

	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type StockTransactionHandler struct {
	transactionService service.TransactionService
}

func NewStockTransactionHandler(transactionService service.TransactionService) *StockTransactionHandler {
	return &StockTransactionHandler{transactionService: transactionService}
}

func (h *StockTransactionHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/stock-transactions")
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.GET("/:id", h.Get)
		group.PUT("/:id/approve", h.Approve)
		group.PUT("/:id/reject", h.Reject)
	}
}

// List godoc
// @Summary      List import/export documents
// @Tags         stock-transactions
// @Security     BearerAuth
// @Produce      json
// @Param        status        query     string  false  "pending | approved | rejected"
// @Param        type          query     string  false  "import | export"
// @Param        warehouse_id  query     string  false  "Warehouse ID"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/stock-transactions [get]
func (h *StockTransactionHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	filter, ok := documentFilter(c)
	if !ok {
		return
	}
	docs, total, err := h.transactionService.List(c.Request.Context(), a, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("transactions", docs, total, filter.Page, filter.Limit)))
}

// Create godoc
// @Summary      Create import/export document
// @Description  Creates a pending document. Callers at or above the approval threshold get it approved and applied immediately.
// @Tags         stock-transactions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateStockTransactionRequest  true  "Document"
// @Success      201      {object}  response.Response{data=model.StockTransaction}
// @Failure      409      {object}  ErrorBody
// @Failure      422      {object}  ErrorBody
// @Router       /api/stock-transactions [post]
func (h *StockTransactionHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateStockTransactionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	doc, err := h.transactionService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, doc))
}

// Get godoc
// @Summary      Get import/export document
// @Tags         stock-transactions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  response.Response{data=model.StockTransaction}
// @Router       /api/stock-transactions/{id} [get]
func (h *StockTransactionHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	doc, err := h.transactionService.Get(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, doc))
}

// Approve godoc
// @Summary      Approve document
// @Description  Applies every line to the ledger atomically; any insufficient line leaves the document pending
// @Tags         stock-transactions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                                  true   "Document ID"
// @Param        payload  body      service.ApproveStockTransactionRequest  false  "Serial overrides per item id"
// @Success      200      {object}  response.Response{data=model.StockTransaction}
// @Failure      409      {object}  ErrorBody
// @Router       /api/stock-transactions/{id}/approve [put]
func (h *StockTransactionHandler) Approve(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.ApproveStockTransactionRequest
	if !bindOptional(c, &req) {
		return
	}
	doc, err := h.transactionService.Approve(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, doc))
}

// Reject godoc
// @Summary      Reject document
// @Tags         stock-transactions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                                 true  "Document ID"
// @Param        payload  body      service.RejectStockTransactionRequest  true  "Reason"
// @Success      200      {object}  response.Response{data=model.StockTransaction}
// @Router       /api/stock-transactions/{id}/reject [put]
func (h *StockTransactionHandler) Reject(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.RejectStockTransactionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	doc, err := h.transactionService.Reject(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, doc))
}
