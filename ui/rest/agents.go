package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/conduitchat/conduit/hub"
	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/pkg/timeutils"
	"github.com/conduitchat/conduit/pkg/utils"
)

type SaveAgentRequest struct {
	Name     string         `json:"name"`
	Active   bool           `json:"active"`
	Settings agent.Settings `json:"settings"`
}

func (r SaveAgentRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
	); err != nil {
		return err
	}
	for day, hours := range r.Settings.WorkingHours {
		if _, err := timeutils.ParseClock(hours.Start); err != nil {
			return validation.NewError("validation_working_hours", "invalid start time for "+day)
		}
		if _, err := timeutils.ParseClock(hours.End); err != nil {
			return validation.NewError("validation_working_hours", "invalid end time for "+day)
		}
	}
	return nil
}

type SavePromptRequest struct {
	TriggerWords []string          `json:"trigger_words"`
	Priority     int               `json:"priority"`
	Active       bool              `json:"active"`
	Template     string            `json:"template"`
	Conditions   *agent.Conditions `json:"conditions,omitempty"`
}

func (r SavePromptRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Template, validation.Required),
	); err != nil {
		return err
	}
	if r.Conditions != nil && r.Conditions.TimeOfDay != nil {
		if _, err := timeutils.ParseClock(r.Conditions.TimeOfDay.Start); err != nil {
			return validation.NewError("validation_time_of_day", "invalid window start")
		}
		if _, err := timeutils.ParseClock(r.Conditions.TimeOfDay.End); err != nil {
			return validation.NewError("validation_time_of_day", "invalid window end")
		}
	}
	return nil
}

type AgentHandler struct {
	Store *hub.Stores
}

func InitRestAgents(app fiber.Router, stores *hub.Stores) AgentHandler {
	handler := AgentHandler{Store: stores}

	app.Get("/agents", handler.ListAgents)
	app.Post("/agents", handler.CreateAgent)
	app.Get("/agents/:id", handler.GetAgent)
	app.Put("/agents/:id", handler.UpdateAgent)
	app.Delete("/agents/:id", handler.DeleteAgent)
	app.Post("/agents/:id/prompts", handler.CreatePrompt)
	app.Put("/agents/:id/prompts/:promptId", handler.UpdatePrompt)
	app.Delete("/agents/:id/prompts/:promptId", handler.DeletePrompt)

	return handler
}

func (h *AgentHandler) ListAgents(c *fiber.Ctx) error {
	agents, err := h.Store.Agents.ListAgents(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agents",
		Results: agents,
	})
}

func (h *AgentHandler) CreateAgent(c *fiber.Ctx) error {
	var request SaveAgentRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	a := agent.Agent{
		Name:     request.Name,
		Active:   request.Active,
		Settings: request.Settings,
	}
	utils.PanicIfNeeded(h.Store.Agents.SaveAgent(c.UserContext(), &a))

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "CREATED",
		Message: "Agent created",
		Results: a,
	})
}

func (h *AgentHandler) GetAgent(c *fiber.Ctx) error {
	a, err := h.Store.Agents.GetAgent(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent found",
		Results: a,
	})
}

func (h *AgentHandler) UpdateAgent(c *fiber.Ctx) error {
	var request SaveAgentRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	ctx := c.UserContext()
	a, err := h.Store.Agents.GetAgent(ctx, c.Params("id"))
	utils.PanicIfNeeded(err)

	a.Name = request.Name
	a.Active = request.Active
	a.Settings = request.Settings
	utils.PanicIfNeeded(h.Store.Agents.SaveAgent(ctx, a))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent updated",
		Results: a,
	})
}

func (h *AgentHandler) DeleteAgent(c *fiber.Ctx) error {
	utils.PanicIfNeeded(h.Store.Agents.DeleteAgent(c.UserContext(), c.Params("id")))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent deleted",
	})
}

func (h *AgentHandler) CreatePrompt(c *fiber.Ctx) error {
	var request SavePromptRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	p := agent.Prompt{
		AgentID:      c.Params("id"),
		TriggerWords: request.TriggerWords,
		Priority:     request.Priority,
		Active:       request.Active,
		Template:     request.Template,
		Conditions:   request.Conditions,
	}
	utils.PanicIfNeeded(h.Store.Agents.SavePrompt(c.UserContext(), &p))

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "CREATED",
		Message: "Prompt created",
		Results: p,
	})
}

func (h *AgentHandler) UpdatePrompt(c *fiber.Ctx) error {
	var request SavePromptRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	p := agent.Prompt{
		ID:           c.Params("promptId"),
		AgentID:      c.Params("id"),
		TriggerWords: request.TriggerWords,
		Priority:     request.Priority,
		Active:       request.Active,
		Template:     request.Template,
		Conditions:   request.Conditions,
	}
	utils.PanicIfNeeded(h.Store.Agents.SavePrompt(c.UserContext(), &p))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Prompt updated",
		Results: p,
	})
}

func (h *AgentHandler) DeletePrompt(c *fiber.Ctx) error {
	utils.PanicIfNeeded(h.Store.Agents.DeletePrompt(c.UserContext(), c.Params("id"), c.Params("promptId")))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Prompt deleted",
	})
}
