package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"mirrorctl/internal/logger"
	"mirrorctl/internal/model"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	echo    *echo.Echo
	manager *JobManager
	addr    string
}

func NewServer(manager *JobManager, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(WithRequestID(c.Request().Context(), id)))
		},
	}))

	s := &Server{
		echo:    e,
		manager: manager,
		addr:    addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Cluster level
	s.echo.GET("/init", s.handleInit)
	s.echo.GET("/node", s.handleNodes)
	s.echo.GET("/manager", s.handleComponent(TargetManager))
	s.echo.GET("/front", s.handleComponent(TargetFront))
	s.echo.POST("/front", s.handleDeployFront)
	s.echo.DELETE("/manager", s.handleRestart(TargetManager))
	s.echo.DELETE("/front", s.handleRestart(TargetFront))

	// Jobs
	g := s.echo.Group("/job")
	g.GET("", s.handleListJobs)
	g.POST("", s.handleCreateJob)
	g.POST("/refresh", s.handleRefresh)
	g.GET("/:name", s.handleJobInfo)
	g.PATCH("/:name", s.handleModifyJob)
	g.DELETE("/:name", s.handleDeleteJob)
	g.GET("/:name/log", s.handleJobLog)
	g.DELETE("/:name/pod", s.handleRestart(TargetJob))
	g.POST("/:name/:cmd", s.handleCommand)

	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		logger.Log.Info("api server started",
			zap.String("addr", s.addr))

		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("api server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func reply(c echo.Context, r *Result) error {
	return c.JSON(r.Code, r.body())
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, map[string]any{"msg": "success", "data": data})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// failErr maps read errors onto response codes.
func failErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrNoReadyPod):
		return fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownTarget), errors.Is(err, ErrFrontDisabled):
		return fail(c, http.StatusBadRequest, err.Error())
	default:
		logger.Log.Warn("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, err.Error())
	}
}

func queryBool(c echo.Context, name string, def bool) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func (s *Server) handleInit(c echo.Context) error {
	return reply(c, s.manager.Init(c.Request().Context()))
}

func (s *Server) handleNodes(c echo.Context) error {
	nodes, err := s.manager.Nodes(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	return success(c, nodes)
}

func (s *Server) handleComponent(target Target) echo.HandlerFunc {
	return func(c echo.Context) error {
		pods, err := s.manager.Component(c.Request().Context(), target)
		if err != nil {
			return failErr(c, err)
		}
		return success(c, pods)
	}
}

func (s *Server) handleDeployFront(c echo.Context) error {
	return reply(c, s.manager.DeployFront(c.Request().Context(), c.QueryParam("addition")))
}

func (s *Server) handleRestart(target Target) echo.HandlerFunc {
	return func(c echo.Context) error {
		return reply(c, s.manager.RestartPods(c.Request().Context(), target, c.Param("name")))
	}
}

func (s *Server) handleListJobs(c echo.Context) error {
	jobs, err := s.manager.List(c.Request().Context(), c.QueryParam("status"), c.QueryParam("filter"))
	if err != nil {
		return failErr(c, err)
	}
	return success(c, jobs)
}

func (s *Server) handleCreateJob(c echo.Context) error {
	var spec model.JobSpec
	if err := c.Bind(&spec); err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}
	return reply(c, s.manager.Create(c.Request().Context(), spec))
}

func (s *Server) handleRefresh(c echo.Context) error {
	update, err := queryBool(c, "update", false)
	if err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}
	retry, err := queryBool(c, "retry", false)
	if err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}
	return reply(c, s.manager.Refresh(c.Request().Context(), update, retry))
}

func (s *Server) handleJobInfo(c echo.Context) error {
	withStatus, err := queryBool(c, "status", true)
	if err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}

	info, err := s.manager.Info(c.Request().Context(), c.Param("name"), withStatus)
	if err != nil {
		return failErr(c, err)
	}
	return success(c, info)
}

func (s *Server) handleModifyJob(c echo.Context) error {
	var patch model.JobSpec
	if err := c.Bind(&patch); err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}
	return reply(c, s.manager.Modify(c.Request().Context(), c.Param("name"), patch))
}

func (s *Server) handleDeleteJob(c echo.Context) error {
	return reply(c, s.manager.Delete(c.Request().Context(), c.Param("name")))
}

func (s *Server) handleCommand(c echo.Context) error {
	return reply(c, s.manager.Command(c.Request().Context(), c.Param("name"), c.Param("cmd")))
}

func (s *Server) handleJobLog(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	n := 0
	if v := c.QueryParam("line"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return c.String(http.StatusBadRequest, "line not int")
		}
		n = parsed
	}

	if n > 0 {
		content, err := s.manager.Log(ctx, name, n)
		if errors.Is(err, ErrJobNotFound) {
			return c.String(http.StatusNotFound, "Job Not Found")
		}
		if err != nil {
			return failErr(c, err)
		}
		return c.String(http.StatusOK, content)
	}

	path, err := s.manager.LogPath(ctx, name)
	if errors.Is(err, ErrJobNotFound) {
		return c.String(http.StatusNotFound, "Job Not Found")
	}
	if err != nil {
		return failErr(c, err)
	}
	return c.File(path)
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	failedOnly, err := queryBool(c, "failed", false)
	if err != nil {
		return fail(c, http.StatusBadRequest, "query param unexpected")
	}

	ops, err := s.manager.History(c.QueryParam("job"), failedOnly, n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, ops)
}
