package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/conduitchat/conduit/drivers/widget"
	"github.com/conduitchat/conduit/pkg/utils"
)

type WidgetMessageRequest struct {
	VisitorID   string `json:"visitor_id"`
	VisitorName string `json:"visitor_name"`
	Text        string `json:"text"`
}

func (r WidgetMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.VisitorID, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Text, validation.Required, validation.Length(1, 4000)),
	)
}

// WidgetHandler is the public ingress for the embeddable chat widget.
// Visitors post messages and poll their pending replies; no operator
// credentials are involved.
type WidgetHandler struct {
	Hub *widget.Hub
}

func InitRestWidget(app fiber.Router, hub *widget.Hub) WidgetHandler {
	handler := WidgetHandler{Hub: hub}

	app.Post("/widget/:channelId/messages", handler.PostMessage)
	app.Get("/widget/:channelId/messages", handler.PollReplies)

	return handler
}

func (h *WidgetHandler) PostMessage(c *fiber.Ctx) error {
	var request WidgetMessageRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	drv, ok := h.Hub.Get(c.Params("channelId"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(utils.ResponseData{
			Status:  404,
			Code:    "NOT_FOUND",
			Message: "Widget channel is not online",
		})
	}
	utils.PanicIfNeeded(drv.Ingest(request.VisitorID, request.VisitorName, request.Text))

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  202,
		Code:    "ACCEPTED",
		Message: "Message queued",
	})
}

func (h *WidgetHandler) PollReplies(c *fiber.Ctx) error {
	visitorID := c.Query("visitor_id")
	if visitorID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  400,
			Code:    "VALIDATION_ERROR",
			Message: "visitor_id is required",
		})
	}

	drv, ok := h.Hub.Get(c.Params("channelId"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(utils.ResponseData{
			Status:  404,
			Code:    "NOT_FOUND",
			Message: "Widget channel is not online",
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pending replies",
		Results: drv.Drain(visitorID),
	})
}
