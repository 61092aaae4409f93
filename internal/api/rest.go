package api

import (
	"context"
	"sync"

	"grabbit/internal/api/config"
	"grabbit/internal/api/jobs"
	"grabbit/internal/api/statuses"
	"grabbit/internal/event"
	"grabbit/internal/http/websocket"
	"grabbit/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8399"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. It
	// exposes Grabbit's observability surface - the job list, service
	// status and runtime settings - plus the live activity websocket.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		jobController    controller
		statusController controller
		configController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the controllers.
func NewRestGateway(
	restConfig *RestConfig,
	jobService jobs.Service,
	statusService statuses.Service,
	configService config.Service,
	eventBus event.EventHandler,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.NewHub()
	gateway := &RestGateway{
		broadcaster:      newBroadcaster(socket, jobService, eventBus),
		config:           restConfig,
		ec:               ec,
		socket:           socket,
		jobController:    jobs.New(jobService),
		statusController: statuses.New(statusService),
		configController: config.New(configService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/grabbit/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	jobGroup := ec.Group("/api/grabbit/v1/jobs")
	gateway.jobController.SetRoutes(jobGroup)

	statusGroup := ec.Group("/api/grabbit/v1/status")
	gateway.statusController.SetRoutes(statusGroup)

	settingsGroup := ec.Group("/api/grabbit/v1/settings")
	gateway.configController.SetRoutes(settingsGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.broadcaster.run(ctx)
	}()

	wg.Wait()

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
