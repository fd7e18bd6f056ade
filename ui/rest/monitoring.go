package rest

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/conduitchat/conduit/hub"
	"github.com/conduitchat/conduit/pkg/pipemonitor"
	"github.com/conduitchat/conduit/pkg/utils"
)

type healthView struct {
	ChannelID         string  `json:"channel_id"`
	Status            string  `json:"status"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	LastHeartbeat     string  `json:"last_heartbeat"`
	AvgResponseMs     float64 `json:"avg_response_ms"`
	Since             string  `json:"since"`
}

type MonitoringHandler struct {
	Manager *hub.Manager
	Store   *hub.Stores
}

func InitRestMonitoring(app fiber.Router, manager *hub.Manager, stores *hub.Stores) MonitoringHandler {
	handler := MonitoringHandler{Manager: manager, Store: stores}

	app.Get("/monitoring/health", handler.GetHealth)
	app.Get("/monitoring/pipeline", handler.GetPipelineStats)
	app.Get("/monitoring/workers", handler.GetWorkerPoolStats)

	return handler
}

func (h *MonitoringHandler) GetHealth(c *fiber.Ctx) error {
	records, err := h.Store.Health.List(c.UserContext())
	utils.PanicIfNeeded(err)

	views := make([]healthView, 0, len(records))
	for _, rec := range records {
		view := healthView{
			ChannelID:         rec.ChannelID,
			Status:            string(rec.Status),
			ConsecutiveErrors: rec.ConsecutiveErrors,
			AvgResponseMs:     rec.AvgResponseMs,
		}
		if !rec.LastHeartbeat.IsZero() {
			view.LastHeartbeat = humanize.Time(rec.LastHeartbeat)
		}
		if !rec.Since.IsZero() {
			view.Since = humanize.RelTime(rec.Since, time.Now(), "ago", "from now")
		}
		views = append(views, view)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channel health",
		Results: views,
	})
}

func (h *MonitoringHandler) GetPipelineStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pipeline stats",
		Results: pipemonitor.GetStats(),
	})
}

func (h *MonitoringHandler) GetWorkerPoolStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats",
		Results: h.Manager.PoolStats(),
	})
}
