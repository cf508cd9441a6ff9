package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/tanks", s.handleListTanks)
	s.echo.GET("/radars", s.handleListRadars)
	s.echo.POST("/commands", s.handleEnqueueCommand)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/ws/tank/:id", s.handleTankSocket)
	s.echo.GET("/ws/radar/source/:id", s.handleRadarSourceSocket)
	s.echo.GET("/ws/radar/listener", s.handleRadarListenerSocket)
}
