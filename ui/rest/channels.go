package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/sirupsen/logrus"

	"github.com/conduitchat/conduit/hub"
	"github.com/conduitchat/conduit/hub/domain/channel"
	pkgError "github.com/conduitchat/conduit/pkg/error"
	"github.com/conduitchat/conduit/pkg/utils"
)

type CreateChannelRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Phone string `json:"phone"`
}

func (r CreateChannelRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Type, validation.Required, validation.In(
			string(channel.PlatformWhatsApp),
			string(channel.PlatformTelegram),
			string(channel.PlatformWeChat),
			string(channel.PlatformWidget),
			string(channel.PlatformFacebook),
		)),
	)
}

type BindAgentRequest struct {
	AgentID   string `json:"agent_id"`
	AutoReply bool   `json:"auto_reply"`
}

func (r BindAgentRequest) Validate() error {
	// Auto-reply sin agente no tiene sentido: no habría quién responda.
	if r.AutoReply && r.AgentID == "" {
		return pkgError.ValidationError("auto_reply requires an agent_id")
	}
	return nil
}

type ChannelHandler struct {
	Manager *hub.Manager
	Store   *hub.Stores
}

func InitRestChannels(app fiber.Router, manager *hub.Manager, stores *hub.Stores) ChannelHandler {
	handler := ChannelHandler{Manager: manager, Store: stores}

	app.Post("/channels", handler.CreateChannel)
	app.Get("/channels", handler.ListChannels)
	app.Get("/channels/:id", handler.GetChannel)
	app.Post("/channels/:id/login", handler.Login)
	app.Post("/channels/:id/logout", handler.Logout)
	app.Put("/channels/:id/agent", handler.BindAgent)
	app.Get("/channels/:id/conversations", handler.ListConversations)
	app.Get("/conversations/:id/messages", handler.ListMessages)

	return handler
}

func (h *ChannelHandler) CreateChannel(c *fiber.Ctx) error {
	var request CreateChannelRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	ch := channel.Channel{
		ID:     uuid.NewString(),
		Name:   request.Name,
		Type:   channel.PlatformType(request.Type),
		Status: channel.StatusPending,
		Phone:  request.Phone,
	}
	utils.PanicIfNeeded(h.Store.Gateway.SaveChannel(c.UserContext(), &ch))

	logrus.Infof("[REST] Channel %s created (%s)", ch.ID, ch.Type)
	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "CREATED",
		Message: "Channel created",
		Results: ch,
	})
}

func (h *ChannelHandler) ListChannels(c *fiber.Ctx) error {
	channels, err := h.Store.Gateway.GetActiveChannels(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Active channels",
		Results: channels,
	})
}

func (h *ChannelHandler) GetChannel(c *fiber.Ctx) error {
	ch, err := h.Store.Gateway.GetChannel(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	payload := fiber.Map{"channel": ch}
	if info, ok := h.Manager.Registry().GetSessionInfo(ch.ID); ok {
		payload["session"] = info
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channel found",
		Results: payload,
	})
}

// Login starts the session. The response carries either an immediate
// connection or a QR payload; the QR is also rendered to a PNG the UI
// can poll under /statics.
func (h *ChannelHandler) Login(c *fiber.Ctx) error {
	channelID := c.Params("id")
	res := h.Manager.Registry().CreateSession(c.UserContext(), channelID)
	if !res.Success {
		return c.Status(fiber.StatusGatewayTimeout).JSON(utils.ResponseData{
			Status:  504,
			Code:    "LOGIN_FAILED",
			Message: res.Error,
			Results: res,
		})
	}

	payload := fiber.Map{"connected": res.Connected}
	if res.QR != "" {
		qrPath := utils.GetQRCodePath(channelID)
		if err := qrcode.WriteFile(res.QR, qrcode.Medium, 256, qrPath); err != nil {
			logrus.WithError(err).Warnf("[REST] Failed to render QR for channel %s", channelID)
		} else {
			payload["qr_image"] = qrPath
		}
		payload["qr"] = res.QR
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Login started",
		Results: payload,
	})
}

func (h *ChannelHandler) Logout(c *fiber.Ctx) error {
	err := h.Manager.Registry().DisconnectSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channel disconnected",
	})
}

func (h *ChannelHandler) BindAgent(c *fiber.Ctx) error {
	var request BindAgentRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(err)
	}
	utils.PanicIfNeeded(request.Validate())

	ctx := c.UserContext()
	ch, err := h.Store.Gateway.GetChannel(ctx, c.Params("id"))
	utils.PanicIfNeeded(err)

	if request.AgentID != "" {
		_, err := h.Store.Agents.GetAgent(ctx, request.AgentID)
		utils.PanicIfNeeded(err)
	}

	ch.AgentID = request.AgentID
	ch.AutoReply = request.AutoReply
	utils.PanicIfNeeded(h.Store.Gateway.SaveChannel(ctx, ch))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent binding updated",
		Results: ch,
	})
}

func (h *ChannelHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.Store.Gateway.GetConversationsByChannel(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversations",
		Results: convs,
	})
}

func (h *ChannelHandler) ListMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	msgs, err := h.Store.Gateway.GetRecentMessages(c.UserContext(), c.Params("id"), limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Messages",
		Results: msgs,
	})
}
