package handler

import (
	"net/http"

	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type TransferHandler struct {
	transferService service.TransferService
}

func NewTransferHandler(transferService service.TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

func (h *TransferHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/transfers")
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.GET("/:id", h.Get)
		group.PUT("/:id/dispatch", h.Dispatch)
		group.PUT("/:id/receive", h.Receive)
		group.PUT("/:id/cancel", h.Cancel)
	}
}

// List godoc
// @Summary      List transfers
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        status        query     string  false  "pending | in_transit | received | cancelled"
// @Param        warehouse_id  query     string  false  "Either endpoint"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=object}
// @Router       /api/transfers [get]
func (h *TransferHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	filter, ok := documentFilter(c)
	if !ok {
		return
	}
	orders, total, err := h.transferService.List(c.Request.Context(), a, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, listResponse("transfers", orders, total, filter.Page, filter.Limit)))
}

// Create godoc
// @Summary      Create transfer
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateTransferRequest  true  "Transfer"
// @Success      201      {object}  response.Response{data=model.TransferOrder}
// @Failure      409      {object}  ErrorBody
// @Failure      422      {object}  ErrorBody
// @Router       /api/transfers [post]
func (h *TransferHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateTransferRequest
	if !bindAndValidate(c, &req) {
		return
	}
	order, err := h.transferService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, order))
}

// Get godoc
// @Summary      Get transfer
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Transfer ID"
// @Success      200  {object}  response.Response{data=model.TransferOrder}
// @Router       /api/transfers/{id} [get]
func (h *TransferHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.transferService.Get(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// Dispatch godoc
// @Summary      Dispatch transfer
// @Description  Decrements the source warehouse by every sent quantity
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Transfer ID"
// @Success      200  {object}  response.Response{data=model.TransferOrder}
// @Failure      409  {object}  ErrorBody
// @Router       /api/transfers/{id}/dispatch [put]
func (h *TransferHandler) Dispatch(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.transferService.Dispatch(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// Receive godoc
// @Summary      Receive transfer
// @Description  Increments the destination by received quantities; omitted lines count as fully received
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                          true   "Transfer ID"
// @Param        payload  body      service.ReceiveTransferRequest  false  "Received quantities"
// @Success      200      {object}  response.Response{data=model.TransferOrder}
// @Router       /api/transfers/{id}/receive [put]
func (h *TransferHandler) Receive(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.ReceiveTransferRequest
	if !bindOptional(c, &req) {
		return
	}
	order, err := h.transferService.Receive(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// Cancel godoc
// @Summary      Cancel transfer
// @Description  Cancelling an in-transit transfer returns the sent quantities to the source
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true   "Transfer ID"
// @Param        payload  body      service.CancelTransferRequest  false  "Reason"
// @Success      200      {object}  response.Response{data=model.TransferOrder}
// @Router       /api/transfers/{id}/cancel [put]
func (h *TransferHandler) Cancel(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.CancelTransferRequest
	if !bindOptional(c, &req) {
		return
	}
	order, err := h.transferService.Cancel(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}
