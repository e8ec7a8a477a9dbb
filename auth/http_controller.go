package auth

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

// RegisterAuthRoutes mounts the auth and user administration endpoints
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	authed := controller.Auther.ProtectedRoute("")
	admin := controller.Auther.ProtectedRoute(RoleAdmin)

	app.Post(controller.Routes.Login, controller.LoginPost)
	app.Post(controller.Routes.AdminLogin, controller.AdminLoginPost)
	app.Get(controller.Routes.Me, authed, controller.Me)
	app.Post(controller.Routes.Logout, controller.LogOut)
	app.Post(controller.Routes.Register, controller.RegistrationCreate)
	app.Put(controller.Routes.Username, authed, controller.UsernameUpdate)
	app.Put(controller.Routes.Password, authed, controller.PasswordUpdate)

	app.Post(controller.Routes.Users, admin, controller.UserCreate)
	app.Get(controller.Routes.Users, admin, controller.UserList)

	return controller
}

type AuthControllerRoutes struct {
	Login      string
	AdminLogin string
	Me         string
	Logout     string
	Register   string
	Username   string
	Password   string
	Users      string
}

type AuthController struct {
	Debug             bool
	AllowRegistration bool
	Logger            Logger
	Repo              RepositoryManager
	Routes            *AuthControllerRoutes
	Auther            *RouteAuthenticator
	ActivitySink      ActivitySink
	ErrorHandler      func(*fiber.Ctx, error) error
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

func WithControllerRepository(repo RepositoryManager) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Repo = repo
		return ac
	}
}

func WithControllerAuthenticator(auther *RouteAuthenticator) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = auther
		return ac
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.ActivitySink = NormalizeActivitySink(sink)
		return ac
	}
}

func WithRegistration(allow bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.AllowRegistration = allow
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ActivitySink: noopActivitySink{},
		Routes: &AuthControllerRoutes{
			Login:      "/api/auth/login",
			AdminLogin: "/api/auth/admin-login",
			Me:         "/api/auth/me",
			Logout:     "/api/auth/logout",
			Register:   "/api/auth/register",
			Username:   "/api/auth/username",
			Password:   "/api/auth/password",
			Users:      "/api/admin/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Auther.Responder().Respond
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Username   string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"rememberMe" json:"rememberMe"`
}

// GetUsername returns the username
func (r LoginRequest) GetUsername() string {
	return r.Username
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetRememberMe reports whether the long lived TTL was requested
func (r LoginRequest) GetRememberMe() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// UserResponse is the public view of a principal
type UserResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	Kelas    *string `json:"kelas"`
	NIS      *string `json:"nis"`
}

func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:       u.ID.String(),
		Username: u.Username,
		FullName: u.FullName,
		Role:     string(u.Role),
		Kelas:    u.Kelas,
		NIS:      u.NIS,
	}
}

func (a *AuthController) bindLogin(ctx *fiber.Ctx) (*LoginRequest, error) {
	payload := new(LoginRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return nil, ErrUnableToParseData
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(map[string]any{
			"username":   payload.Username,
			"rememberMe": payload.RememberMe,
		}))
	}

	return payload, nil
}

func (a *AuthController) LoginPost(ctx *fiber.Ctx) error {
	payload, err := a.bindLogin(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	result, err := a.Auther.Login(ctx, payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.loginResponse(ctx, result)
}

func (a *AuthController) AdminLoginPost(ctx *fiber.Ctx) error {
	payload, err := a.bindLogin(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	result, err := a.Auther.AdminLogin(ctx, payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.loginResponse(ctx, result)
}

func (a *AuthController) loginResponse(ctx *fiber.Ctx, result *LoginResult) error {
	return ctx.JSON(fiber.Map{
		"success":   true,
		"message":   "Login successful",
		"user":      NewUserResponse(result.User),
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
	})
}

// Me returns the principal resolved by the guard, never cached
func (a *AuthController) Me(ctx *fiber.Ctx) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNotAuthenticated)
	}

	ctx.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	ctx.Set(fiber.HeaderPragma, "no-cache")
	ctx.Set(fiber.HeaderExpires, "0")

	return ctx.JSON(fiber.Map{
		"success": true,
		"user":    NewUserResponse(user),
	})
}

func (a *AuthController) LogOut(ctx *fiber.Ctx) error {
	if err := a.Auther.Logout(ctx); err != nil {
		a.Logger.Error("Logout failed", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

// RegistrationCreatePayload is the self registration payload, students only
type RegistrationCreatePayload struct {
	Username        string `form:"username" json:"username"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirmPassword" json:"confirmPassword"`
	FullName        string `form:"fullName" json:"fullName"`
	Kelas           string `form:"kelas" json:"kelas"`
	NIS             string `form:"nis" json:"nis"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(func(value interface{}) error {
			if value.(string) != r.Password {
				return errors.New("passwords do not match")
			}
			return nil
		})),
	)
}

func (a *AuthController) RegistrationCreate(ctx *fiber.Ctx) error {
	if !a.AllowRegistration {
		return a.ErrorHandler(ctx, ErrRegistrationDisabled)
	}

	payload := new(RegistrationCreatePayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.provisionHandler().Execute(ctx.UserContext(), ProvisionUserMessage{
		Actor:    ActorRef{Type: "self"},
		Username: payload.Username,
		Password: payload.Password,
		FullName: payload.FullName,
		Role:     RoleUser,
		Kelas:    payload.Kelas,
		NIS:      payload.NIS,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Registration successful",
		"user":    NewUserResponse(user),
	})
}

// UserCreate provisions a student or an admin, admin only
func (a *AuthController) UserCreate(ctx *fiber.Ctx) error {
	actor, _ := CurrentUser(ctx)

	msg := ProvisionUserMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}
	msg.Actor = ActorFromUser(actor)

	user, err := a.provisionHandler().Execute(ctx.UserContext(), msg)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("%s created successfully", roleLabel(user.Role)),
		"user":    NewUserResponse(user),
	})
}

func roleLabel(role UserRole) string {
	if role == RoleAdmin {
		return "Admin"
	}
	return "Student"
}

// UserList lists principals, ?role= filters by role
func (a *AuthController) UserList(ctx *fiber.Ctx) error {
	var role UserRole
	if raw := ctx.Query("role"); raw != "" {
		parsed, ok := ParseRole(raw)
		if !ok {
			return a.ErrorHandler(ctx, validation.Errors{"role": errors.New("must be a valid value")})
		}
		role = parsed
	}

	records, err := a.Repo.Users().ListByRole(ctx.UserContext(), role)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	users := make([]UserResponse, 0, len(records))
	for _, u := range records {
		users = append(users, NewUserResponse(u))
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"users":   users,
	})
}

func (a *AuthController) UsernameUpdate(ctx *fiber.Ctx) error {
	current, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNotAuthenticated)
	}

	msg := ChangeUsernameMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}
	msg.UserID = current.ID

	user, err := NewChangeUsernameHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.ActivitySink).
		Execute(ctx.UserContext(), msg)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"message": "Username updated successfully",
		"user":    NewUserResponse(user),
	})
}

func (a *AuthController) PasswordUpdate(ctx *fiber.Ctx) error {
	current, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNotAuthenticated)
	}

	msg := ChangePasswordMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}
	msg.UserID = current.ID

	err := NewChangePasswordHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.ActivitySink).
		Execute(ctx.UserContext(), msg)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"message": "Password updated successfully",
	})
}

func (a *AuthController) provisionHandler() *ProvisionUserHandler {
	return NewProvisionUserHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.ActivitySink)
}
