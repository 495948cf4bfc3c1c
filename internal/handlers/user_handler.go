package handlers

import (
	"storefront/internal/apperrors"
	"storefront/internal/models"
	"storefront/internal/services"

	"github.com/gofiber/fiber/v2"
)

// UserHandler handles HTTP requests for accounts and authentication.
type UserHandler struct {
	authService *services.AuthService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(authService *services.AuthService) *UserHandler {
	return &UserHandler{
		authService: authService,
	}
}

// RegisterRoutes registers the user routes. authGuard protects the profile;
// adminGuards protect user management.
func (h *UserHandler) RegisterRoutes(router fiber.Router, authGuard fiber.Handler, adminGuards ...fiber.Handler) {
	userRoutes := router.Group("/users")
	userRoutes.Post("/register", h.HandleRegister)
	userRoutes.Post("/login", h.HandleLogin)
	userRoutes.Get("/profile", authGuard, h.HandleGetProfile)

	userRoutes.Get("/", guarded(adminGuards, h.HandleListUsers)...)
	userRoutes.Get("/:id", guarded(adminGuards, h.HandleGetUser)...)
	userRoutes.Put("/:id", guarded(adminGuards, h.HandleUpdateUser)...)
	userRoutes.Delete("/:id", guarded(adminGuards, h.HandleDeleteUser)...)
}

// HandleRegister handles new user registration.
func (h *UserHandler) HandleRegister(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}

	result, err := h.authService.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusCreated, "User registered successfully", result)
}

// HandleLogin handles user login and issues a JWT token.
func (h *UserHandler) HandleLogin(c *fiber.Ctx) error {
	var req services.LoginInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}

	result, err := h.authService.Login(c.UserContext(), req)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Login successful", result)
}

// HandleGetProfile returns the authenticated user.
func (h *UserHandler) HandleGetProfile(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	user, err := h.authService.GetProfile(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Profile retrieved successfully", fiber.Map{"user": user})
}

// HandleListUsers lists every account.
func (h *UserHandler) HandleListUsers(c *fiber.Ctx) error {
	users, err := h.authService.ListUsers(c.UserContext())
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Users retrieved successfully", fiber.Map{
		"users": users,
		"count": len(users),
	})
}

// HandleGetUser returns one account.
func (h *UserHandler) HandleGetUser(c *fiber.Ctx) error {
	user, err := h.authService.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "User retrieved successfully", fiber.Map{"user": user})
}

// updateUserRequest is an admin edit; omitted fields are left as they are.
type updateUserRequest struct {
	Name  *string      `json:"name" validate:"omitempty,min=2,max=100"`
	Email *string      `json:"email" validate:"omitempty,email"`
	Role  *models.Role `json:"role" validate:"omitempty,oneof=user admin"`
}

// HandleUpdateUser edits an account.
func (h *UserHandler) HandleUpdateUser(c *fiber.Ctx) error {
	var req updateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.Name == nil && req.Email == nil && req.Role == nil {
		return apperrors.Validation("Nothing to update")
	}

	user, err := h.authService.UpdateUser(c.UserContext(), c.Params("id"), models.UserUpdate{
		Name:  req.Name,
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "User updated successfully", fiber.Map{"user": user})
}

// HandleDeleteUser removes an account.
func (h *UserHandler) HandleDeleteUser(c *fiber.Ctx) error {
	actorID, _ := c.Locals("user_id").(string)
	if err := h.authService.DeleteUser(c.UserContext(), actorID, c.Params("id")); err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "User deleted successfully", nil)
}
