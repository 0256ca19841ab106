package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/common"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/convo"
	"github.com/voyago/voyago/internal/httpapi/handlers"
	"github.com/voyago/voyago/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, svc *convo.Service, prober handlers.TokenProber) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, svc, prober)

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)

	r.POST("/signup", h.Signup)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.PATCH("/chat/sessions/:session_id", h.PatchChatSession)
	authGroup.POST("/chat/turns", h.SendTurn)

	return r
}
