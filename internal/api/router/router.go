package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tqviet/task-service/internal/api/handler"
	"github.com/tqviet/task-service/internal/metrics"
)

// Options configures the middleware applied to the task routes
type Options struct {
	Logger            *slog.Logger
	Store             handler.TaskStore
	APIKey            string
	RateLimitEnabled  bool
	RequestsPerMinute int
	RedisClient       *redis.Client
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(opts *Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(opts.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "task-api-service",
		})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	taskHandler := handler.NewTaskHandler(&handler.Dependencies{
		Logger: opts.Logger,
		Store:  opts.Store,
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(opts.APIKey))
	if opts.RateLimitEnabled && opts.RedisClient != nil {
		v1.Use(RateLimitMiddleware(opts.RedisClient, opts.Logger, opts.RequestsPerMinute))
	}
	{
		tasks := v1.Group("/tasks")
		{
			// POST /api/v1/tasks - Submit a new task
			tasks.POST("", taskHandler.SubmitTask)

			// GET /api/v1/tasks - List tasks with filtering and pagination
			tasks.GET("", taskHandler.ListTasks)

			// GET /api/v1/tasks/:task_id - Get task details
			tasks.GET("/:task_id", taskHandler.GetTask)

			// POST /api/v1/tasks/:task_id/cancel - Cancel a queued task
			tasks.POST("/:task_id/cancel", taskHandler.CancelTask)
		}
	}

	return r
}
