package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/patient-track/internal/domain"
)

func serve(t *testing.T, register func(app *fiber.App)) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func TestAuthClient_Validate(t *testing.T) {
	base := serve(t, func(app *fiber.App) {
		app.Get("/auth/validate", func(c *fiber.Ctx) error {
			switch c.Get(fiber.HeaderAuthorization) {
			case "Bearer good":
				return c.JSON(fiber.Map{"data": fiber.Map{
					"username":       "alice",
					"role":           "DOCTOR",
					"active":         true,
					"expiresAt":      "2030-01-01T00:00:00Z",
					"organizationId": 5,
				}})
			case "Bearer broken":
				return c.SendString("not json")
			case "Bearer boom":
				return c.SendStatus(fiber.StatusBadGateway)
			case "Bearer slow":
				time.Sleep(300 * time.Millisecond)
				return c.JSON(fiber.Map{"data": fiber.Map{"username": "late", "active": true}})
			default:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": fiber.Map{"code": "UNAUTHORIZED"}})
			}
		})
	})
	client := NewAuthClient(base, 100*time.Millisecond)
	ctx := context.Background()

	info, err := client.Validate(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, domain.RoleDoctor, info.Role)
	assert.True(t, info.Active)
	require.NotNil(t, info.OrganizationID)
	assert.Equal(t, int64(5), *info.OrganizationID)

	_, err = client.Validate(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = client.Validate(ctx, "boom")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	_, err = client.Validate(ctx, "broken")
	assert.Error(t, err)

	_, err = client.Validate(ctx, "slow")
	assert.Error(t, err)
}

func TestAuthClient_UnreachableAndCancelled(t *testing.T) {
	client := NewAuthClient("http://127.0.0.1:1", 200*time.Millisecond)

	_, err := client.Validate(context.Background(), "tok")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Validate(ctx, "tok")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaller_TimeoutForHonoursDeadline(t *testing.T) {
	c := newCaller("http://example", time.Second)

	timeout, err := c.timeoutFor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Second, timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	timeout, err = c.timeoutFor(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, timeout, 100*time.Millisecond)

	assert.Equal(t, defaultTimeout, newCaller("x", 0).timeout)
}

func TestUserDataClient_GetAuthRecord(t *testing.T) {
	base := serve(t, func(app *fiber.App) {
		app.Get("/users/internal/auth/:username", func(c *fiber.Ctx) error {
			switch c.Params("username") {
			case "alice":
				return c.JSON(fiber.Map{"data": fiber.Map{
					"userId":           3,
					"username":         "alice",
					"passwordHash":     "$2a$10$hash",
					"role":             "PATIENT",
					"active":           true,
					"organizationName": "North Clinic",
				}})
			case "weird":
				return c.JSON(fiber.Map{"data": fiber.Map{"username": "weird", "role": "JANITOR"}})
			case "crash":
				return c.SendStatus(fiber.StatusInternalServerError)
			default:
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND"}})
			}
		})
	})
	client := NewUserDataClient(base, time.Second)
	ctx := context.Background()

	cred, err := client.GetAuthRecord(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cred.UserID)
	assert.Equal(t, domain.RolePatient, cred.Role)
	assert.Equal(t, "$2a$10$hash", cred.PasswordHash)
	assert.Nil(t, cred.OrganizationID)
	require.NotNil(t, cred.OrganizationName)

	_, err = client.GetAuthRecord(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = client.GetAuthRecord(ctx, "weird")
	assert.Error(t, err)

	_, err = client.GetAuthRecord(ctx, "crash")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}
