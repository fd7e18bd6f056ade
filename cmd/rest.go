package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	globalConfig "github.com/conduitchat/conduit/config"
	"github.com/conduitchat/conduit/ui/rest"
	"github.com/conduitchat/conduit/ui/rest/middleware"
	"github.com/conduitchat/conduit/ui/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the messaging hub API over http",
	Run:   restServer,
}

func init() {
	restCmd.Flags().String("basic-auth", "", "Basic auth for API (format: user:pass,user2:pass2)")
	rootCmd.AddCommand(restCmd)
}

func restServer(cmd *cobra.Command, _ []string) {
	cfg := globalConfig.Global

	// Override basic auth if flag is provided
	if baFlag, _ := cmd.Flags().GetString("basic-auth"); baFlag != "" {
		cfg.App.BasicAuth = strings.Split(baFlag, ",")
	}

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		Network:                 "tcp",
		AppName:                 "Conduit Messaging Hub",
		DisableStartupMessage:   false,
		ServerHeader:            "Hidden",
	}

	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	// Security: RequestID for audit trails
	app.Use(requestid.New())

	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())

	// Security: Hardened Headers
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	if len(cfg.App.BasicAuth) == 0 {
		logrus.Fatalln("CONDUIT_BASIC_AUTH is required. Nothing should be public; please set CONDUIT_BASIC_AUTH=<user>:<secret>[,<user2>:<secret2>] and restart.")
	}

	account := make(map[string]string)
	for _, basicAuth := range cfg.App.BasicAuth {
		ba := strings.Split(basicAuth, ":")
		if len(ba) != 2 {
			logrus.Fatalln("Basic auth is not valid, please this following format <user>:<secret>")
		}
		account[ba[0]] = ba[1]
	}

	// System statics (QR images)
	app.Static(cfg.App.BasePath+"/statics", "./statics")

	// Public widget ingress: visitors have no operator credentials.
	widgetGroup := app.Group(cfg.App.BasePath + "/api/public")
	rest.InitRestWidget(widgetGroup, widgetHub)

	// Create API group
	apiGroup := app.Group(cfg.App.BasePath + "/api")

	// Apply BasicAuth ONLY to the API group
	apiGroup.Use(basicauth.New(basicauth.Config{
		Users: account,
		Next: func(c *fiber.Ctx) bool {
			// Allow CORS preflight without credentials.
			return c.Method() == fiber.MethodOptions
		},
	}))

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
		StopApp()
	}()

	// Register hub handlers
	rest.InitRestChannels(apiGroup, manager, stores)
	rest.InitRestAgents(apiGroup, stores)
	rest.InitRestMonitoring(apiGroup, manager, stores)

	// Websocket
	websocket.SetValkeyClient(vkClient, serverID)
	websocket.RegisterRoutes(apiGroup, gateway)
	go websocket.RunHub()

	// 404 Handler ONLY for API group
	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
