package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/auth"
	"horse.fit/paddock/internal/consensus"
	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/dupdetect"
	"horse.fit/paddock/internal/globaltime"
	"horse.fit/paddock/internal/schema"
)

const maxRequestBodyBytes = 1 << 20

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool       *db.Pool
	classifier *dupdetect.Classifier
	engine     *consensus.Engine
	schemas    *schema.Validator
	logger     zerolog.Logger
	opts       Options
}

func NewServer(pool *db.Pool, classifier *dupdetect.Classifier, engine *consensus.Engine, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8091
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:       pool,
		classifier: classifier,
		engine:     engine,
		schemas:    schema.NewValidator(),
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/datasets/:dataset_id/contributions", s.handleCreateContribution)
	api.GET("/datasets/:dataset_id/stats", s.handleDatasetStats)
	api.GET("/contributions/:contribution_id", s.handleContributionDetail)
	api.DELETE("/contributions/:contribution_id", s.handleDeleteContribution)
	api.POST("/contributions/:contribution_id/validations", s.handleRecordValidation)
	api.PUT("/validations/:validation_id", s.handleUpdateValidation)
	api.DELETE("/validations/:validation_id", s.handleDeleteValidation)

	admin := api.Group("/admin", s.requireAdmin())
	admin.POST("/datasets", s.handleCreateDataset)
	admin.POST("/embeddings/backfill", s.handleBackfill)
	admin.POST("/embeddings/cleanup", s.handleCleanup)
	admin.GET("/datasets/:dataset_id/duplicates", s.handleDatasetDuplicates)
	admin.GET("/datasets/:dataset_id/duplicate-report", s.handleDuplicateReport)
	admin.POST("/datasets/:dataset_id/reconcile", s.handleReconcile)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("paddock api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("paddock api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

// requireAdmin guards the administrative routes with basic auth against the
// users table. Only the admin role passes.
func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return middleware.BasicAuth(func(username, password string, c echo.Context) (bool, error) {
		normalized := auth.NormalizeUsername(username)
		if normalized == "" {
			return false, nil
		}

		user, err := s.pool.GetUserByUsername(c.Request().Context(), normalized)
		if err != nil {
			if db.IsNoRows(err) {
				return false, nil
			}
			s.logger.Error().Err(err).Str("username", normalized).Msg("admin lookup failed")
			return false, err
		}
		if user.Role != auth.RoleAdmin {
			return false, nil
		}
		return auth.VerifyPassword(password, user.PasswordHash), nil
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check database ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "paddock",
		"time":    globaltime.UTC(),
	})
}

func decodeJSONBody(c echo.Context, target any) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxRequestBodyBytes)
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("trailing data after JSON body")
	}
	return nil
}

func pathID(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}
