// Package httpapi serves the pipeline and the approval queue over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/app"
	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/pipeline"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

const principalKey = "principal"

// API is the HTTP surface.
type API struct {
	app    *app.App
	logger *zap.Logger
	fiber  *fiber.App
}

// New builds the routes for a.
func New(a *app.App) *API {
	api := &API{
		app:    a,
		logger: a.Logger.Named("http"),
		fiber: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             64 * 1024,
			ReadTimeout:           30 * time.Second,
			ErrorHandler:          errorHandler,
		}),
	}

	api.fiber.Get("/healthz", api.health)

	v1 := api.fiber.Group("/v1", api.authenticate)
	v1.Post("/transactions", api.execute)

	approvals := v1.Group("/approvals", requireOperator)
	approvals.Get("/", api.listPending)
	approvals.Post("/:key/approve", api.approve)
	approvals.Post("/:key/deny", api.deny)

	return api
}

// Handler exposes the fiber app, mainly for app.Test.
func (api *API) Handler() *fiber.App { return api.fiber }

// Listen serves on addr until Shutdown.
func (api *API) Listen(addr string) error {
	api.logger.Info("http listening", zap.String("addr", addr))
	return api.fiber.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (api *API) Shutdown(ctx context.Context) error {
	return api.fiber.ShutdownWithContext(ctx)
}

func (api *API) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "policyHash": api.app.Pipeline.Policy()})
}

func (api *API) authenticate(c *fiber.Ctx) error {
	token := identity.BearerToken(c.Get(fiber.HeaderAuthorization))
	p, err := api.app.Resolver.Resolve(c.UserContext(), token)
	if err != nil {
		return writeError(c, http.StatusUnauthorized, &pipeline.ErrorBody{
			Code:    txerr.CodeUnauthenticated,
			Kind:    txerr.KindAuth,
			Message: "missing or invalid bearer credential",
		})
	}
	c.Locals(principalKey, p)
	return c.Next()
}

func requireOperator(c *fiber.Ctx) error {
	p := principalOf(c)
	if p.Role != model.RoleAdmin && p.Role != model.RoleOperator {
		return writeError(c, http.StatusForbidden, &pipeline.ErrorBody{
			Code:    txerr.CodeForbidden,
			Kind:    txerr.KindPermission,
			Message: "role " + string(p.Role) + " may not manage approvals",
		})
	}
	return c.Next()
}

func principalOf(c *fiber.Ctx) model.Principal {
	p, _ := c.Locals(principalKey).(model.Principal)
	return p
}

func (api *API) execute(c *fiber.Ctx) error {
	raw, err := decodeObject(c.Body())
	if err != nil {
		return writeError(c, http.StatusBadRequest, &pipeline.ErrorBody{
			Code:    txerr.CodeInvalidField,
			Kind:    txerr.KindValidation,
			Message: "request body must be a JSON object",
		})
	}
	resp, _ := api.app.Pipeline.Execute(c.UserContext(), raw, principalOf(c))
	return c.Status(resp.Status()).JSON(resp)
}

func (api *API) listPending(c *fiber.Ctx) error {
	list, err := api.app.Approvals.List(approval.StatusPending)
	if err != nil {
		return err
	}
	if list == nil {
		list = []approval.Approval{}
	}
	return c.JSON(fiber.Map{"approvals": list})
}

func (api *API) approve(c *fiber.Ctx) error {
	var body struct {
		Duration string `json:"duration"`
	}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
	}
	var duration time.Duration
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid duration "+body.Duration)
		}
		duration = d
	}
	key, operator := c.Params("key"), principalOf(c).UserID
	if err := api.app.Approvals.Approve(key, operator, duration); err != nil {
		return approvalError(err)
	}
	api.logger.Info("approval granted", zap.String("key", key), zap.String("operator", operator), zap.Duration("duration", duration))
	return c.JSON(fiber.Map{"key": key, "status": approval.StatusApproved})
}

func (api *API) deny(c *fiber.Ctx) error {
	key, operator := c.Params("key"), principalOf(c).UserID
	if err := api.app.Approvals.Deny(key, operator); err != nil {
		return approvalError(err)
	}
	api.logger.Info("approval denied", zap.String("key", key), zap.String("operator", operator))
	return c.JSON(fiber.Map{"key": key, "status": approval.StatusDenied})
}

func approvalError(err error) error {
	if errors.Is(err, approval.ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return fiber.NewError(http.StatusConflict, err.Error())
}

// decodeObject keeps numbers as json.Number so amounts are parsed exactly.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("null body")
	}
	return raw, nil
}

func writeError(c *fiber.Ctx, status int, body *pipeline.ErrorBody) error {
	return c.Status(status).JSON(pipeline.Response{Error: body})
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status, msg = fe.Code, fe.Message
	}
	kind := txerr.KindInternal
	code := txerr.CodeInternal
	switch status {
	case http.StatusBadRequest:
		kind, code = txerr.KindValidation, txerr.CodeInvalidField
	case http.StatusNotFound:
		code = "NOT_FOUND"
		kind = txerr.KindValidation
	case http.StatusConflict:
		kind, code = txerr.KindConflict, "APPROVAL_RESOLVED"
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
		kind = txerr.KindValidation
	}
	return writeError(c, status, &pipeline.ErrorBody{Code: code, Kind: kind, Message: msg})
}
