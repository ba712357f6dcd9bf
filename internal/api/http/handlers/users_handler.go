package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/api/dto"
	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/service"
	apperrors "github.com/spec-kit/patient-track/pkg/util"
)

const targetUserKey = "target_user"

// UsersHandler exposes the credential store and user profile endpoints.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// Register handles POST /users/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if problems := req.Validate(); len(problems) > 0 {
		return apperrors.NewValidationError("invalid registration", problems)
	}

	role, _ := domain.ParseRole(req.Role)
	user, err := h.users.Register(c.UserContext(), service.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           role,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// AuthRecord handles GET /users/internal/auth/:username.
func (h *UsersHandler) AuthRecord(c *fiber.Ctx) error {
	cred, err := h.users.GetAuthRecord(c.UserContext(), c.Params("username"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewAuthRecordResponse(cred)})
}

// InternalUser handles GET /users/internal/user/:id.
func (h *UsersHandler) InternalUser(c *fiber.Ctx) error {
	return h.byID(c)
}

// Me handles GET /users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	user, err := h.users.GetByUsername(c.UserContext(), identity.Username)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ByUsername handles GET /users/username/:username.
func (h *UsersHandler) ByUsername(c *fiber.Ctx) error {
	user, err := h.users.GetByUsername(c.UserContext(), c.Params("username"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ByID handles GET /users/:id.
func (h *UsersHandler) ByID(c *fiber.Ctx) error {
	return h.byID(c)
}

// IsOwner reports whether the caller is the user addressed by :id. Unknown
// and malformed ids are simply not owned, so non-admins cannot tell them
// apart from other users' records. The loaded user is kept for the handler.
func (h *UsersHandler) IsOwner(c *fiber.Ctx, identity *domain.Identity) (bool, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return false, nil
	}
	user, err := h.users.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, apperrors.MapError(err)
	}
	if user.Username != identity.Username {
		return false, nil
	}
	c.Locals(targetUserKey, user)
	return true, nil
}

func (h *UsersHandler) byID(c *fiber.Ctx) error {
	user, err := h.loadTarget(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

func (h *UsersHandler) loadTarget(c *fiber.Ctx) (*domain.User, error) {
	if user, ok := c.Locals(targetUserKey).(*domain.User); ok {
		return user, nil
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid user id", map[string]any{"id": c.Params("id")})
	}
	user, err := h.users.GetByID(c.UserContext(), id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	c.Locals(targetUserKey, user)
	return user, nil
}
