package handler

import (
	"net/http"

	"stockledger/internal/auth"
	"stockledger/internal/middleware"
	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type RoleHandler struct {
	roleService service.RoleService
}

func NewRoleHandler(roleService service.RoleService) *RoleHandler {
	return &RoleHandler{roleService: roleService}
}

func (h *RoleHandler) RegisterRoutes(api *gin.RouterGroup) {
	roles := api.Group("/roles")
	roles.Use(middleware.RequirePermission(auth.ModuleRole + ".write"))
	{
		roles.GET("", h.ListRoles)
		roles.POST("", h.CreateRole)
		roles.PUT("/:id", h.UpdateRole)
		roles.DELETE("/:id", h.DeleteRole)
	}

	perms := api.Group("/permissions")
	perms.Use(middleware.RequirePermission(auth.ModuleRole + ".write"))
	{
		perms.GET("", h.ListPermissions)
	}
}

// ListRoles godoc
// @Summary      List roles
// @Description  System roles and the caller's tenant roles with their permissions and approval levels
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.Role}
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	roles, err := h.roleService.List(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// CreateRole godoc
// @Summary      Create custom role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RoleRequest  true  "Role"
// @Success      201      {object}  response.Response{data=model.Role}
// @Failure      422      {object}  ErrorBody
// @Router       /api/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req service.RoleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, err := h.roleService.Create(c.Request.Context(), a, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole godoc
// @Summary      Update custom role
// @Description  Replaces permissions and approval levels. Applies to tokens issued afterwards.
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string               true  "Role ID"
// @Param        payload  body      service.RoleRequest  true  "Role"
// @Success      200      {object}  response.Response{data=model.Role}
// @Router       /api/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.RoleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, err := h.roleService.Update(c.Request.Context(), a, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole godoc
// @Summary      Delete custom role
// @Tags         roles
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response
// @Router       /api/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.roleService.Delete(c.Request.Context(), a, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Role deleted successfully"}))
}

// ListPermissions godoc
// @Summary      List permissions
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.Permission}
// @Router       /api/permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.roleService.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}
